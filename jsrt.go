/*
Package jsrt binds Go to an embedded ECMAScript engine reached through opaque, reference-counted handles.

A Runtime owns a heap and its Contexts. Values cross the boundary as proxies that hold an engine reference until Free is called or they are garbage collected. Go functions are exposed to scripts through HostFunc, and promise jobs queued by scripts run when the outermost script call returns.
*/
package jsrt
