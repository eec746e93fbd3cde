package api

import "github.com/casualjim/delver/provider"

type Model interface {
	Name() string
	Provider() provider.Provider
}
