/*
Package routekit implements a file-system-routed HTTP pipeline engine.

Routes

A route is a source file discovered under the configured routes directory.
Its path, relative to that directory, becomes its URL pattern: directory
components are literal path segments, "[name]" becomes a named parameter,
and "[...name]" becomes a catch-all capturing the remainder of the path.
An "index" file matches its containing directory.

	routes/
	  users/
	    [id].ts        -> /users/[id]
	    index.ts       -> /users
	  files/
	    [...path].ts   -> /files/[...path]

Pipeline

Every route's handler runs at the end of a pipeline assembled from its
ancestor directories: dependency factories contribute to a composed
dependency map, middlewares may short-circuit the request, and
interceptors wrap the whole chain with before/after hooks. See RouteTree,
DiscoverPipeline, DependencyComposer and PipelineExecutor.
*/
package routekit
