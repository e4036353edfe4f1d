package engine

import (
	"fmt"

	"github.com/dop251/goja"
)

// promiseSource builds the Promise constructor installed on every context.
// Reaction and thenable jobs go through enqueue, which hands them to the
// context's continuation callback so they share one FIFO queue with
// queueMicrotask. When enqueue reports no callback the job falls back to
// goja's own job queue.
const promiseSource = `(function (enqueue, NativePromise) {
	"use strict";
	var PENDING = 0, FULFILLED = 1, REJECTED = 2;
	var slots = new WeakMap();

	function schedule(job) {
		if (!enqueue(job)) NativePromise.resolve().then(job);
	}
	function isObject(v) {
		return v !== null && (typeof v === "object" || typeof v === "function");
	}
	function slot(p, method) {
		var s = isObject(p) ? slots.get(p) : undefined;
		if (s === undefined) throw new TypeError("Method Promise.prototype." + method + " called on incompatible receiver");
		return s;
	}
	function method(obj, name, fn) {
		Object.defineProperty(obj, name, { value: fn, writable: true, configurable: true });
	}

	function settle(s, state, value) {
		if (s.state !== PENDING) return;
		var reactions = s.reactions;
		s.state = state;
		s.value = value;
		s.reactions = undefined;
		for (var i = 0; i < reactions.length; i++) trigger(reactions[i], state, value);
	}
	function trigger(r, state, value) {
		schedule(function () {
			var handler = state === FULFILLED ? r.onFulfilled : r.onRejected;
			if (typeof handler !== "function") {
				if (state === FULFILLED) r.capability.resolve(value);
				else r.capability.reject(value);
				return;
			}
			var result;
			try {
				result = handler(value);
			} catch (e) {
				r.capability.reject(e);
				return;
			}
			r.capability.resolve(result);
		});
	}
	function resolvingFunctions(p, s) {
		var done = false;
		return {
			resolve: function (x) {
				if (done) return;
				done = true;
				if (x === p) {
					settle(s, REJECTED, new TypeError("Chaining cycle detected for promise"));
					return;
				}
				if (!isObject(x)) {
					settle(s, FULFILLED, x);
					return;
				}
				var then;
				try {
					then = x.then;
				} catch (e) {
					settle(s, REJECTED, e);
					return;
				}
				if (typeof then !== "function") {
					settle(s, FULFILLED, x);
					return;
				}
				schedule(function () {
					var fns = resolvingFunctions(p, s);
					try {
						then.call(x, fns.resolve, fns.reject);
					} catch (e) {
						fns.reject(e);
					}
				});
			},
			reject: function (reason) {
				if (done) return;
				done = true;
				settle(s, REJECTED, reason);
			}
		};
	}

	function capability(C) {
		if (typeof C !== "function") throw new TypeError("Promise capability constructor is not a function");
		var cap = {};
		cap.promise = new C(function (resolve, reject) {
			if (cap.resolve !== undefined || cap.reject !== undefined) throw new TypeError("Promise executor has already been invoked");
			cap.resolve = resolve;
			cap.reject = reject;
		});
		if (typeof cap.resolve !== "function" || typeof cap.reject !== "function") {
			throw new TypeError("Promise resolve or reject function is not callable");
		}
		return cap;
	}
	function species(p) {
		var C = p.constructor;
		if (C === undefined) return Promise;
		if (!isObject(C)) throw new TypeError("Promise constructor is not an object");
		var S = C[Symbol.species];
		return S === undefined || S === null ? Promise : S;
	}
	function resolveWith(C, x) {
		if (isObject(x) && slots.has(x) && x.constructor === C) return x;
		var cap = capability(C);
		cap.resolve(x);
		return cap.promise;
	}
	function guarded(onFulfilled, onRejected) {
		var called = false;
		return [
			function (v) { if (!called) { called = true; onFulfilled(v); } },
			function (e) { if (!called) { called = true; onRejected(e); } }
		];
	}
	function gather(C, iterable, reactions, finish) {
		var resolve = C.resolve;
		if (typeof resolve !== "function") throw new TypeError("Promise resolve is not a function");
		var values = [], remaining = 1, index = 0;
		function done() {
			if (--remaining === 0) finish(values);
		}
		for (var item of iterable) {
			values.push(undefined);
			remaining++;
			var fns = reactions(index++, values, done);
			resolve.call(C, item).then(fns[0], fns[1]);
		}
		done();
	}
	function combinator(body) {
		return function (iterable) {
			var cap = capability(this);
			try {
				body(this, iterable, cap);
			} catch (e) {
				cap.reject(e);
			}
			return cap.promise;
		};
	}

	function Promise(executor) {
		if (new.target === undefined) throw new TypeError("Promise constructor cannot be invoked without 'new'");
		if (typeof executor !== "function") throw new TypeError("Promise resolver " + typeof executor + " is not a function");
		var s = { state: PENDING, value: undefined, reactions: [] };
		slots.set(this, s);
		var fns = resolvingFunctions(this, s);
		try {
			executor(fns.resolve, fns.reject);
		} catch (e) {
			fns.reject(e);
		}
	}

	var proto = Promise.prototype;
	method(proto, "then", function then(onFulfilled, onRejected) {
		var s = slot(this, "then");
		var r = { onFulfilled: onFulfilled, onRejected: onRejected, capability: capability(species(this)) };
		if (s.state === PENDING) s.reactions.push(r);
		else trigger(r, s.state, s.value);
		return r.capability.promise;
	});
	method(proto, "catch", function (onRejected) {
		return this.then(undefined, onRejected);
	});
	method(proto, "finally", function (onFinally) {
		if (!isObject(this)) throw new TypeError("Method Promise.prototype.finally called on a non-object");
		var C = species(this);
		if (typeof onFinally !== "function") return this.then(onFinally, onFinally);
		return this.then(function (v) {
			return resolveWith(C, onFinally()).then(function () { return v; });
		}, function (e) {
			return resolveWith(C, onFinally()).then(function () { throw e; });
		});
	});
	Object.defineProperty(proto, Symbol.toStringTag, { value: "Promise", configurable: true });

	method(Promise, "resolve", function resolve(x) {
		if (!isObject(this)) throw new TypeError("Promise.resolve called on a non-object");
		return resolveWith(this, x);
	});
	method(Promise, "reject", function reject(reason) {
		var cap = capability(this);
		cap.reject(reason);
		return cap.promise;
	});
	method(Promise, "withResolvers", function withResolvers() {
		var cap = capability(this);
		return { promise: cap.promise, resolve: cap.resolve, reject: cap.reject };
	});
	method(Promise, "all", combinator(function (C, iterable, cap) {
		gather(C, iterable, function (i, values, done) {
			return guarded(function (v) { values[i] = v; done(); }, cap.reject);
		}, cap.resolve);
	}));
	method(Promise, "allSettled", combinator(function (C, iterable, cap) {
		gather(C, iterable, function (i, values, done) {
			return guarded(function (v) {
				values[i] = { status: "fulfilled", value: v };
				done();
			}, function (e) {
				values[i] = { status: "rejected", reason: e };
				done();
			});
		}, cap.resolve);
	}));
	method(Promise, "any", combinator(function (C, iterable, cap) {
		gather(C, iterable, function (i, errors, done) {
			return guarded(cap.resolve, function (e) { errors[i] = e; done(); });
		}, function (errors) {
			cap.reject(new AggregateError(errors, "All promises were rejected"));
		});
	}));
	method(Promise, "race", combinator(function (C, iterable, cap) {
		var resolve = C.resolve;
		if (typeof resolve !== "function") throw new TypeError("Promise resolve is not a function");
		for (var item of iterable) resolve.call(C, item).then(cap.resolve, cap.reject);
	}));
	Object.defineProperty(Promise, Symbol.species, {
		get: function () { return this; },
		configurable: true
	});
	// Async functions still return goja promises.
	Object.defineProperty(Promise, Symbol.hasInstance, {
		value: function (v) {
			if (typeof this !== "function") return false;
			if (Function.prototype[Symbol.hasInstance].call(this, v)) return true;
			return this === Promise && v instanceof NativePromise;
		},
		configurable: true
	});
	return Promise;
})`

// installPromise replaces the global Promise with one whose jobs are queued
// through the continuation callback.
func (c *contextRecord) installPromise() error {
	vm := c.vm
	v, err := vm.RunString(promiseSource)
	if err != nil {
		return err
	}
	factory, ok := goja.AssertFunction(v)
	if !ok {
		return fmt.Errorf("engine: promise factory is not a function")
	}
	ctor, err := factory(goja.Undefined(), vm.ToValue(c.enqueueJob), vm.Get("Promise"))
	if err != nil {
		return err
	}
	if err := vm.GlobalObject().DefineDataProperty("Promise", ctor, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	c.helpers.ctors["Promise"] = ctor
	return nil
}

func (c *contextRecord) enqueueJob(call goja.FunctionCall) goja.Value {
	return c.vm.ToValue(c.handOff(call.Argument(0)))
}

// handOff passes task to the continuation callback. It reports false when
// the context has none.
func (c *contextRecord) handOff(task goja.Value) bool {
	state.Lock()
	cb, st := c.promiseCallback, c.promiseState
	state.Unlock()
	if cb == nil {
		return false
	}
	h, code := c.wrap(task)
	if code != NoError {
		panic(c.vm.NewGoError(fmt.Errorf("microtask: %v", code)))
	}
	cb(h, st)
	return true
}
