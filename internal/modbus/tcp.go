// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

const (
	tcpMinSize = 8
	tcpMaxSize = 260
)

// ApplicationDataUnit is a Modbus TCP (MBAP) frame: a 7-byte header
// (transaction id, protocol id, length, unit id) followed by a PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
	Pdu           ProtocolDataUnit
}

// DecodeTCP parses a raw MBAP frame.
func DecodeTCP(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < tcpMinSize {
		return nil, fmt.Errorf("modbus: frame length %d below minimum %d", len(raw), tcpMinSize)
	}
	adu := &ApplicationDataUnit{}
	adu.TransactionID = uint16(raw[0])<<8 | uint16(raw[1])
	adu.ProtocolID = uint16(raw[2])<<8 | uint16(raw[3])
	adu.Length = uint16(raw[4])<<8 | uint16(raw[5])
	adu.UnitID = raw[6]
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]
	return adu, nil
}

// Encode serializes the frame to its wire form.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 8
	if length > tcpMaxSize {
		return nil, fmt.Errorf("modbus: encoded length %d exceeds maximum %d", length, tcpMaxSize)
	}
	raw := make([]byte, length)
	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID)
	raw[4] = byte(adu.Length >> 8)
	raw[5] = byte(adu.Length)
	raw[6] = adu.UnitID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}

// Verify checks that resp is a plausible answer to req.
func (adu *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if resp.TransactionID != adu.TransactionID {
		return fmt.Errorf("modbus: response transaction id %d does not match request %d", resp.TransactionID, adu.TransactionID)
	}
	return nil
}
