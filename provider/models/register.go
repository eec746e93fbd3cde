package models

import (
	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/internal/registry"
)

// Global maps model names to their configured instances so runners that only
// carry a model name (the Temporal workers) can rehydrate the full model.
var Global = registry.New[api.Model]()

func Add(model api.Model) {
	Global.Add(model.Name(), model)
}

func Get(name string) (api.Model, bool) {
	return Global.Get(name)
}

func GetOrAdd(name string, modelF func() api.Model) api.Model {
	m, _ := Global.GetOrAdd(name, modelF)
	return m
}

func Del(name string) {
	Global.Del(name)
}
