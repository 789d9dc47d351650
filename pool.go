package routekit

import "sync"

// Pool holds the sync.Pools backing per-request allocation reuse, mirroring
// the teacher framework's own request/response pooling.
type Pool struct {
	contextPool  *sync.Pool
	responsePool *sync.Pool
}

// newPool returns a new Pool.
func newPool() *Pool {
	return &Pool{
		contextPool: &sync.Pool{
			New: func() interface{} {
				return &RequestContext{Oxian: make(map[string]any)}
			},
		},
		responsePool: &sync.Pool{
			New: func() interface{} {
				return newResponseState()
			},
		},
	}
}

// RequestContext returns an empty *RequestContext from p.
func (p *Pool) RequestContext() *RequestContext {
	return p.contextPool.Get().(*RequestContext)
}

// ResponseState returns an empty *ResponseState from p.
func (p *Pool) ResponseState() *ResponseState {
	return p.responsePool.Get().(*ResponseState)
}

// Put returns x to its pool after resetting it.
func (p *Pool) Put(x interface{}) {
	switch v := x.(type) {
	case *RequestContext:
		v.reset()
		p.contextPool.Put(v)
	case *ResponseState:
		v.reset()
		p.responsePool.Put(v)
	}
}
