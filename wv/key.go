package wv

import (
	"encoding/hex"

	wvpb "github.com/iyear/gowidevine/widevinepb"
)

type Key struct {
	// Type is the type of key.
	Type wvpb.License_KeyContainer_KeyType
	// IV is the initialization vector of the key.
	IV []byte
	// ID is the ID of the key.
	ID []byte
	// Key is the key.
	Key []byte
}

func (k *Key) KeyIdHex() string {
	return hex.EncodeToString(k.ID)
}

func (k *Key) KeyHex() string {
	return hex.EncodeToString(k.Key)
}
