// Package spi drives an LPSPI serial engine in master mode through the dma
// engine.
//
// A Controller implements tinygo.org/x/drivers.SPI. Tx moves whole buffers
// with two channels, one feeding the transmit FIFO and one draining the
// receive FIFO, so drivers written against the tinygo interface run
// unchanged on top of DMA. Transfer exchanges a single byte by programmed
// I/O.
//
// Frame format, clock prescaler and FIFO watermarks are written once per
// call, before any channel is armed.
package spi
