// Package config loads SoC variant profiles.
//
// A profile names the DMA controller's channel count and encoding limits,
// the request sources routed by the multiplexer and the serial engine
// parameters. Profiles are YAML documents merged over Default, so a file
// only lists what differs from the reference part:
//
//	dma:
//	  channels: 16
//	  cancel_timeout: 20ms
//	sources:
//	  - name: lpspi2-rx
//	    slot: 15
//	    peripheral: lpspi2
//	    direction: rx
//
// A key present in the document replaces the default even when its value is
// zero. Source entries are appended to the defaults; an entry reusing a
// default name replaces it.
package config
