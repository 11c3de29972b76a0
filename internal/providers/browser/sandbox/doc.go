/*
Package sandbox runs a generated document's inline scripts headlessly.

The runtime host uses it as a probe: before (or instead of) a browser shell
reporting health, the classic inline scripts of a freshly rendered document
are executed in an isolated goja VM with a browser-shaped stub environment.
An uncaught exception is a health failure for that render.

# Environment

Each run gets a fresh VM with:

  - window (the global object), parent.postMessage, location, localStorage
  - document backed by the parsed page: getElementById, querySelector and
    querySelectorAll resolve against the real markup (goquery)
  - console, captured into the result
  - timers that never fire

Node globals (require, process, module, exports) are removed. Module scripts
and importmaps are not run; goja has no ES module loader.

# Limits

Every run is bounded by Config.Timeout and by the call stack limit. A
script that exceeds either is reported as failed.

# Pool

Pool bounds how many probes run at once. Each run still starts from a fresh
VM, so nothing leaks from one document into the next.
*/
package sandbox
