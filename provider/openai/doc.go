// Package openai implements the provider interface on top of the official
// OpenAI Go SDK. It supports both streaming and one-shot completions and
// translates structured output schemas into the vendor's response format.
package openai
