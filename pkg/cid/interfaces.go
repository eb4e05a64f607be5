/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cid

// ChaincodeStubInterface is the subset of the chaincode stub used to obtain
// the identity of the transaction invoker.
type ChaincodeStubInterface interface {
	// GetCreator returns the serialized identity of the transaction submitter
	GetCreator() ([]byte, error)
}

// Creator is an identity that has already been split into the ID of its
// membership service provider and its identity bytes. *msp.SerializedIdentity
// satisfies it.
type Creator interface {
	GetMspid() string
	GetIdBytes() []byte
}
