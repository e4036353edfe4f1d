package main

import (
	"fmt"
	"math"

	"github.com/buke/jsrt-go"
	"github.com/buke/jsrt-go/internal/storage"
)

const storageFactory = `(function (get, set, remove, clear, key, length) {
	"use strict";
	var storage = {};
	function method(name, arity, fn) {
		Object.defineProperty(storage, name, {
			value: function () {
				if (arguments.length < arity) {
					throw new TypeError("Storage." + name + " requires " + arity + " argument(s)");
				}
				return fn.apply(undefined, arguments);
			},
			writable: true,
			configurable: true
		});
	}
	method("getItem", 1, function (k) { return get(String(k)); });
	method("setItem", 2, function (k, v) { set(String(k), String(v)); });
	method("removeItem", 1, function (k) { remove(String(k)); });
	method("clear", 0, function () { clear(); });
	method("key", 1, function (i) { return key(Number(i)); });
	Object.defineProperty(storage, "length", { get: function () { return length(); }, configurable: true });
	Object.defineProperty(storage, Symbol.toStringTag, { value: "Storage", configurable: true });
	return storage;
})`

// installLocalStorage defines a global localStorage object persisted in s.
func installLocalStorage(ctx *jsrt.Context, s *storage.Store) error {
	fns := []struct {
		name string
		fn   jsrt.HostFunc
	}{
		{"get", func(ctx *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
			v, ok, err := s.Get(stringArg(args, 0))
			if err != nil || !ok {
				return nullOr(ctx, err)
			}
			return ctx.String(v)
		}},
		{"set", func(_ *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
			return nil, s.Set(stringArg(args, 0), stringArg(args, 1))
		}},
		{"remove", func(_ *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
			return nil, s.Delete(stringArg(args, 0))
		}},
		{"clear", func(*jsrt.Context, jsrt.ObjectValue, []jsrt.Value) (jsrt.Value, error) {
			return nil, s.Clear()
		}},
		{"key", func(ctx *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
			var f float64
			if len(args) > 0 {
				f, _ = args[0].ToNumber()
			}
			if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
				return ctx.Null()
			}
			k, ok, err := s.Key(int(f))
			if err != nil || !ok {
				return nullOr(ctx, err)
			}
			return ctx.String(k)
		}},
		{"length", func(ctx *jsrt.Context, _ jsrt.ObjectValue, _ []jsrt.Value) (jsrt.Value, error) {
			n, err := s.Len()
			if err != nil {
				return nil, err
			}
			return ctx.Number(float64(n))
		}},
	}

	args := make([]jsrt.Value, 0, len(fns))
	defer func() {
		for _, a := range args {
			a.Free()
		}
	}()
	for _, f := range fns {
		fn, err := ctx.Function(f.name, f.fn)
		if err != nil {
			return err
		}
		args = append(args, fn)
	}

	v, err := ctx.RunScript(storageFactory, jsrt.WithSourceURL("<storage>"))
	if err != nil {
		return err
	}
	defer v.Free()
	factory, ok := v.(*jsrt.Function)
	if !ok {
		return fmt.Errorf("storage factory is %v, not a function", v.Type())
	}
	obj, err := factory.Call(nil, args...)
	if err != nil {
		return err
	}
	defer obj.Free()

	global, err := ctx.Global()
	if err != nil {
		return err
	}
	defer global.Free()
	return global.Set("localStorage", obj)
}

func stringArg(args []jsrt.Value, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].ToString()
	return s
}

func nullOr(ctx *jsrt.Context, err error) (jsrt.Value, error) {
	if err != nil {
		return nil, err
	}
	return ctx.Null()
}
