// Package regs holds the bit-exact register surface of the DMA controller,
// the DMA request multiplexer and the LPSPI serial engine.
//
// Nothing here has behavior beyond encoding and decoding: each peripheral is
// a register view ([EDMA], [Mux], [LPSPI]) constructed once over a [Bus],
// plus plain data types ([TCD], [ErrorStatus], [ChannelPriority]) whose
// layouts match the silicon.
//
// # Transfer Control Descriptor
//
// The 32-byte TCD is the unit the DMA engine executes:
//
//	0x00 SADDR     source address
//	0x04 SOFF      signed source offset per read
//	0x06 ATTR      SMOD[15:11] SSIZE[10:8] DMOD[7:3] DSIZE[2:0]
//	0x08 NBYTES    minor loop byte count (with optional SMLOE/DMLOE/MLOFF)
//	0x0C SLAST     source adjustment after the major loop
//	0x10 DADDR     destination address
//	0x14 DOFF      signed destination offset per write
//	0x16 CITER     current major iteration count (ELINK/LINKCH optional)
//	0x18 DLAST_SGA destination adjustment, or next TCD address when ESG=1
//	0x1C CSR       control and status
//	0x1E BITER     starting major iteration count
package regs
