package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// parseUUID trims and parses an id coming from a route param or a claim.
func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid uuid").
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"value": raw})
	}
	return id, nil
}

// ParseID is the exported form used by transports.
func ParseID(raw string) (uuid.UUID, error) {
	return parseUUID(raw)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func sameStation(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
