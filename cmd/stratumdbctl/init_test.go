package main

import "testing"

func TestInitRun_CreatesDataDirectory(t *testing.T) {
	prev := dataDir
	dataDir = t.TempDir()
	defer func() { dataDir = prev }()

	if err := initRun(nil, nil); err != nil {
		t.Fatalf("initRun: %v", err)
	}
	if err := checkpointRun(nil, nil); err != nil {
		t.Fatalf("checkpointRun on freshly initialized directory: %v", err)
	}
	if err := recoverRun(nil, nil); err != nil {
		t.Fatalf("recoverRun on freshly initialized directory: %v", err)
	}
}
