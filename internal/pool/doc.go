// Package pool manages a bounded, dynamically-sized set of SFTP channels
// multiplexed over a single SSH connection.
//
// Two allocation policies are provided. HardPool guarantees that a channel
// is used by at most one borrower at a time, queueing borrowers when every
// channel is checked out. SoftPool lets many borrowers share a channel
// concurrently and balances load by always handing out the least-used one.
//
// Both policies share the same capacity bookkeeping: when the server
// refuses to open another channel, the pool freezes its capacity at the
// number of channels it managed to open and never attempts creation again
// for its lifetime. Channel-count limits are a property of the remote
// session and do not change without reconnecting, so capacity only ever
// moves down.
package pool
