// Package models registers the built-in appliance models with
// clip.DefaultRegistry. Import it for its side effect:
//
//	import _ "github.com/nerrad567/clip-bridge/internal/bridges/clip/models"
//
// Each model is a data table of clip.Field descriptors plus the
// model-specific part of its discovery descriptor. Adding a model means
// adding a file here and registering it below.
package models

import "github.com/nerrad567/clip-bridge/internal/bridges/clip"

func init() {
	clip.DefaultRegistry.MustRegister(RAC056905WW)
}
