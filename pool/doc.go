// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory reuse for hioload-net channels.
// Read paths borrow a scratch buffer for one syscall and copy the bytes they
// keep into the buffer owned by the pending operation, so pooled memory never
// crosses an asynchronous boundary.
package pool
