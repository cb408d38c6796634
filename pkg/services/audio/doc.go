// Package audio validates recorded WAV clips before they are uploaded.
package audio
