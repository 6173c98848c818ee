// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

// CalculateFCS computes the 16-bit frame check sequence for the given data
func CalculateFCS(data []byte) uint16 {
	fcs := uint16(fcsInitial)
	for _, b := range data {
		fcs ^= uint16(b)
		for i := 0; i < 8; i++ {
			if fcs&0x0001 != 0 {
				fcs = (fcs >> 1) ^ fcsPolynomial
			} else {
				fcs >>= 1
			}
		}
	}
	return fcs ^ 0xFFFF
}
