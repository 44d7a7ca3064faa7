// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/daemon"
	"github.com/tombee/steward/internal/lifecycle"
)

// Version information (injected via ldflags at build time)
var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		rootURL     = flag.String("root-url", "", "Component URL of the root instance")
		socketPath  = flag.String("socket", "", "Unix socket path for the diagnostics API")
		listenAddr  = flag.String("listen", "", "TCP address for the diagnostics API")
		pidFile     = flag.String("pid-file", "", "Path to PID file")
		allowRemote = flag.Bool("allow-remote", false, "Allow binding to non-localhost addresses (SECURITY WARNING)")
		background  = flag.Bool("background", false, "Detach and run in the background")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("stewardd %s\n", version)
		os.Exit(0)
	}

	if *background {
		if err := spawnBackground(); err != nil {
			fmt.Fprintf(os.Stderr, "stewardd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	err := daemon.Run(daemon.RunOptions{
		Version:     version,
		ConfigPath:  *configPath,
		RootURL:     *rootURL,
		SocketPath:  *socketPath,
		ListenAddr:  *listenAddr,
		PIDFile:     *pidFile,
		AllowRemote: *allowRemote,
	})
	if err != nil {
		os.Exit(1)
	}
}

// spawnBackground relaunches stewardd detached from the terminal, with the
// same arguments minus --background, logging to the data directory.
func spawnBackground() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own binary: %w", err)
	}

	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a == "--background" || a == "-background" {
			continue
		}
		args = append(args, a)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	logPath := filepath.Join(dataDir, "stewardd.log")

	pid, err := lifecycle.NewSpawner().SpawnDetached(self, args, logPath)
	if err != nil {
		return fmt.Errorf("failed to spawn daemon: %w", err)
	}

	fmt.Printf("stewardd started in background (pid %d, log %s)\n", pid, logPath)
	return nil
}
