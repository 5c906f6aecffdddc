package ui

import "versfm/internal/services"

type transferResultMsg struct {
	result services.TransferResult
}

type transferProgressMsg struct {
	progress services.TransferProgress
}
