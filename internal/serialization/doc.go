// Package serialization saves and restores the parameters of a variable
// registry in the SafeTensors format:
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON, one entry per tensor plus "__metadata__"]
//	[tensor data: raw little-endian bytes]
//
// Tensors are keyed by their full scope-qualified parameter name, such as
// "encoder/kernel_0". The metadata carries a SHA-256 checksum of the data
// section, verified on read.
//
// Example:
//
//	if err := serialization.SaveRegistry("weights.safetensors", reg, nil); err != nil {
//		return err
//	}
//	// later, after rebuilding the same architecture into reg2:
//	if err := serialization.LoadRegistry("weights.safetensors", reg2); err != nil {
//		return err
//	}
package serialization
