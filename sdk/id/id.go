// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package id generates the random identifiers used as oauth state and oidc
// nonce values.
package id

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// New generates a UUID-class random identifier with an optional prefix,
// joined as "<prefix>-<uuid>".
func New(optionalPrefix string) (string, error) {
	const op = "id.New"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s-%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
