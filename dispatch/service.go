package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"turbo-rpc/protocol"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// RegisterService registers every exported method of rcvr shaped like
//
//	func (r *T) Method(ctx context.Context, args *Args, reply *Reply) error
//
// as a unary handler named "T.Method". Other methods are skipped. The *Call of a running
// method is available through CallFromContext.
func (t *Table) RegisterService(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	if len(svc.method) == 0 {
		return fmt.Errorf("dispatch: %s has no methods of the form Method(context.Context, *Args, *Reply) error", svc.name)
	}

	handlers := make([]*Handler, 0, len(svc.method))
	for name, m := range svc.method {
		handlers = append(handlers, &Handler{
			Name: svc.name + "." + name,
			Func: svc.handlerFunc(m),
		})
	}
	return t.Register(handlers...)
}

func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("dispatch: service receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("dispatch: service receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	s := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	return s, nil
}

// registerMethods keeps methods with inputs (receiver, ctx, *Args, *Reply) and a single
// error output.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType ||
			mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.In(3).Elem(),
		}
	}
}

func (s *service) call(ctx context.Context, m *methodType, argv, replyv reflect.Value) error {
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	results := m.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

func (s *service) handlerFunc(m *methodType) HandlerFunc {
	return func(ctx context.Context, call *Call, raw []byte, emit Emitter) error {
		argv := reflect.New(m.ArgType)
		replyv := reflect.New(m.ReplyType)
		if err := decodeParams(call, raw, argv.Interface()); err != nil {
			return err
		}

		if err := s.call(WithCall(ctx, call), m, argv, replyv); err != nil {
			return err
		}

		body, err := call.Codec.Encode(replyv.Interface())
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		emit(protocol.EncodeValue(body))
		return nil
	}
}

type callKey struct{}

// WithCall returns a context carrying call.
func WithCall(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFromContext returns the call carried by ctx, if any.
func CallFromContext(ctx context.Context) (*Call, bool) {
	call, ok := ctx.Value(callKey{}).(*Call)
	return call, ok
}
