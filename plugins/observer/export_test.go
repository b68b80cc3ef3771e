package observer

// ResetTextLog forgets the text log of the process.
func ResetTextLog() {
	textLogMu.Lock()
	defer textLogMu.Unlock()
	textLog = nil
}
