// Package dma implements a DMA-chained peripheral transfer engine for
// eDMA-class controllers.
//
// A transfer passes through four components:
//
//   - The Builder validates a Request and turns it into a Chain of
//     Descriptors held in a DescriptorPool. Chains longer than one major
//     loop are linked by scatter/gather.
//   - The Router binds a free channel to a request Source at a Priority,
//     programming the request multiplexer and the channel priority.
//   - The Engine arms the bound channel with the chain, enables the
//     request or issues a software start, and returns a Handle.
//   - The Dispatcher observes completion and error latches, acknowledges
//     them for that channel only, resolves the handle, and returns the
//     channel to the router.
//
// Buffers are leased to a transfer from submission to resolution. A leased
// Buffer panics on CPU access and refuses to be freed.
//
// Completion notifications are queued rather than called from the signal
// path. Deliver them with Dispatcher.Drain or Dispatcher.Run:
//
//	eng, _ := dma.New(plat, dma.DefaultOptions())
//	go eng.Dispatcher().Run(ctx, time.Millisecond)
//	res, err := eng.Transfer(ctx, req, nil, dma.Priority{Level: 3})
//
// Errors fall into three classes reported by Classify: configuration
// errors returned synchronously (*BuildError, *RouterError), hardware
// faults carried by Status and Result (*TransferError), and contract
// violations raised as panics with a *ContractError.
package dma
