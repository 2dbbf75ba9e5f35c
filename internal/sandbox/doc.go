/*
Package sandbox executes untrusted JavaScript against a curated set of host
capabilities.

# Overview

Scripts are evaluated as the body of an async function. Whatever they
return becomes Result.Result; whatever they throw becomes Result.Error.
Execution failures are never returned as Go errors, only lifecycle misuse
(exhausted or disposed pools) is.

Host operations are supplied as a Capabilities map and appear in the script
under a single root object:

	const tables = await pg.core.listTables({ schema: "public" });
	return tables.length;

# Isolation Modes

Two execution units share the Unit contract:

  - Runtime: a goja VM inside the host process. Cheap to start and reused
    across executions; the VM is rebuilt after any interrupt.
  - Worker: a fresh OS process per execution. Only capability names cross
    the boundary; calls are forwarded back to the host as request/reply
    messages over stdin/stdout. The host kills the process once the
    timeout plus a grace period elapses.

Binaries that use ModeIsolated must call IsWorkerProcess at the top of main
and hand control to RunWorker when it reports true.

# Security Model

Every VM starts hardened by the Policy:

  - module loading, process, filesystem and timer globals throw ReferenceError
  - eval and the Function constructors are disabled
  - intrinsics are frozen and the call stack is bounded
  - globals outside the allow list are removed before each execution

Capabilities can additionally be filtered with "group.method" globs.

# Usage Example

	pool := sandbox.NewPool(sandbox.Options{Timeout: 2 * time.Second},
		sandbox.PoolOptions{MaxInstances: 8})
	defer pool.Dispose()

	res, err := pool.Execute(ctx, "return 2 + 2;", caps)
	if err != nil {
		return err // ErrPoolExhausted or ErrPoolDisposed
	}
*/
package sandbox
