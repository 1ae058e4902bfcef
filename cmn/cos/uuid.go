// Run-id generation: a short id for tagging one benchmark invocation. No
// package in this module calls it.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"github.com/teris-io/shortid"
)

var sid *shortid.Shortid

// GenRunID returns a short, human-shareable id from a shortid generator
// created with seed on the first call; later calls reuse that generator and
// ignore their seed argument.
func GenRunID(seed uint64) string {
	if sid == nil {
		sid, _ = shortid.New(1, shortid.DefaultABC, seed)
	}
	id, err := sid.Generate()
	if err != nil {
		return "run"
	}
	return id
}
