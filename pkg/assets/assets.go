// Package assets carries the embedded fallback model catalog, served
// when no upstream credential is available or the live list fails.
package assets

import (
	_ "embed"
	"encoding/json"
	"time"

	"github.com/lkarlslund/copilot-relay/pkg/copilot"
)

//go:embed models.json
var modelsJSON []byte

// StaticModels returns the embedded catalog with a current creation
// timestamp. The returned slice is owned by the caller.
func StaticModels() []copilot.Model {
	var models []copilot.Model
	if err := json.Unmarshal(modelsJSON, &models); err != nil {
		// Embedded at build time; failing to parse is a packaging bug.
		panic("assets: invalid embedded models.json: " + err.Error())
	}
	now := time.Now().Unix()
	for i := range models {
		models[i].Object = "model"
		models[i].Created = now
	}
	return models
}
