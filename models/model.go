// Package models - Definitions for caries output class sets and model families.
package models

// ModelFamily identifies the label set a model was trained on.
type ModelFamily string

const (
	// ModelFamilyCaries is the seven-level D0..D6 caries scale.
	ModelFamilyCaries ModelFamily = "caries"
	// ModelFamilyCariesExtended is the eight-level D0..D7 variant.
	ModelFamilyCariesExtended ModelFamily = "caries-extended"
)
