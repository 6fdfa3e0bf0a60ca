package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/signlab/signcoach/internal/camera"
	"github.com/signlab/signcoach/internal/capture"
	"github.com/signlab/signcoach/internal/capws"
	"github.com/signlab/signcoach/internal/config"
	"github.com/signlab/signcoach/internal/diaglog"
	"github.com/signlab/signcoach/internal/fileutil"
	"github.com/signlab/signcoach/internal/ipc"
	"github.com/signlab/signcoach/internal/pidfile"
	"github.com/signlab/signcoach/internal/recorder"
	"github.com/signlab/signcoach/internal/submit"
	"github.com/signlab/signcoach/internal/validation"
	"github.com/signlab/signcoach/internal/vocab"
)

const logPrefix = "[signcoach-core]"

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger

	// serverMu guards the inference-server reachability flag shared
	// between the warmup goroutine and status writes.
	serverMu        sync.Mutex
	serverReachable bool

	// persistMu guards lastSavedAttempt so each attempt's clip and
	// metadata are written at most once.
	persistMu        sync.Mutex
	lastSavedAttempt string
)

func main() {
	// --export-diag subcommand: read the debug log, write a bundle, exit.
	if len(os.Args) > 1 && os.Args[1] == "--export-diag" {
		logPath := os.Getenv("SIGNCOACH_LOG_PATH")
		if logPath == "" {
			logPath = "/tmp/signcoach-debug.log"
		}
		diaglog.Version = Version
		path, n, err := diaglog.Export(logPath, ".")
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			if os.IsNotExist(err) {
				fmt.Fprintln(os.Stderr, "hint: run with SIGNCOACH_DEBUG_CAPTURE=true to enable logging")
				os.Exit(1)
			}
			os.Exit(2)
		}
		fmt.Printf("Wrote: %s (%d lines)\n", path, n)
		os.Exit(0)
	}

	// Recover from any panics and log them
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in signcoach-core: %v\n", r)
			if outLog != nil {
				outLog.Printf("PANIC: %v", r)
			}
			if errLog != nil {
				errLog.Printf("PANIC: %v", r)
			}
			os.Exit(1)
		}
	}()

	// Initialize logging
	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	outLog.Println("===========================================")
	outLog.Println("Starting SignCoach Core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Printf("Timestamp: %s", time.Now().Format(time.RFC3339))
	outLog.Println("===========================================")

	// Check for duplicate instances
	pidFilePath := pidfile.Path("signcoach-core")
	outLog.Printf("Checking PID file: %s", pidFilePath)
	pf, err := pidfile.New(pidFilePath)
	if err != nil {
		errLog.Printf("Failed to create PID file: %v", err)
		errLog.Println("Another instance of signcoach-core may already be running.")
		errLog.Printf("If you're sure no other instance is running, remove: %s", pidFilePath)
		os.Exit(1)
	}
	defer func() {
		outLog.Println("Cleaning up before exit...")
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	outLog.Printf("PID file created: %s (PID %d)", pidFilePath, os.Getpid())

	// Load configuration
	outLog.Println("[STARTUP] Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		errLog.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		errLog.Printf("Invalid config: %v", err)
		os.Exit(1)
	}
	outLog.Printf("[STARTUP] Config loaded: server=%s, backend=%s, camera=%dx%d@%d",
		cfg.BaseURL(), cfg.RecorderBackend, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FrameRate)

	// Load vocabulary
	outLog.Println("[STARTUP] Loading vocabulary...")
	mapper, err := vocab.Load(cfg.VocabPath)
	if err != nil {
		errLog.Printf("Failed to load vocabulary: %v", err)
		os.Exit(1)
	}
	outLog.Printf("[STARTUP] Vocabulary loaded: %d words", mapper.Len())

	// Init the diagnostic event log
	logPath := os.Getenv("SIGNCOACH_LOG_PATH")
	if logPath == "" {
		logPath = "/tmp/signcoach-debug.log"
	}
	diagLogger, diagErr := diaglog.New(logPath)
	if diagErr != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", logPath, diagErr)
		diagLogger = diaglog.NewNoOp()
	}
	defer func() { _ = diagLogger.Close() }()
	diaglog.Version = Version

	// Set up the recorder registry: chunk always available, capws when
	// a companion capture app is configured.
	outLog.Println("[STARTUP] Setting up recorder backends...")
	reg := recorder.NewRegistry()
	chunkRec := recorder.NewChunkRecorder()
	chunkRec.SetLogger(diagLogger)
	reg.Register("chunk", chunkRec)

	var capClient *capws.Client
	if cfg.CapWS != nil {
		outLog.Println("[STARTUP] Connecting to capture app at " + cfg.CapWS.URL + "...")
		capClient = capws.NewClient(cfg.CapWS.URL, cfg.CapWS.Password)
		capClient.SetLogger(diagLogger)
		if err := capClient.Connect(); err != nil {
			errLog.Printf("[STARTUP] Failed to connect to capture app: %v", err)
			errLog.Println("Please ensure the capture app is running and its WebSocket server is enabled")
			errLog.Println("  1. Open the capture app")
			errLog.Println("  2. Go to Settings > Remote Control")
			errLog.Println("  3. Enable 'Allow WebSocket connections'")
			if cfg.RecorderBackend == "capws" {
				errLog.Println("Falling back to the built-in chunk recorder.")
			}
			capClient = nil
		} else {
			defer func() {
				outLog.Println("[SHUTDOWN] Disconnecting from capture app...")
				capClient.Disconnect()
			}()

			appVersion, rpcVersion, _ := capClient.GetVersion()
			outLog.Printf("[STARTUP] Connected to capture app %s (RPC %d)", appVersion, rpcVersion)

			outLog.Println("[STARTUP] Validating capture app compatibility...")
			healthCheck := validation.CheckCaptureAppHealth(appVersion, rpcVersion)
			outLog.Printf("[STARTUP] Capture app health: %s", healthCheck.Message)
			if !healthCheck.OK {
				errLog.Println("[STARTUP] WARNING: capture app compatibility check found issues:")
				for _, issue := range healthCheck.Issues {
					errLog.Printf("  - %s", issue)
				}
				errLog.Println("")
				errLog.Println("Suggested fixes:")
				for _, fix := range healthCheck.Fixes {
					errLog.Printf("  - %s", fix)
				}
				errLog.Println("")
				errLog.Println("Continuing anyway, but recording may not work properly.")
			}

			capClient.OnCaptureStateChanged(func(capturing bool, clipPath string) {
				if capturing {
					outLog.Println("[EVENT] Capture app recording state changed: STARTED")
				} else {
					outLog.Printf("[EVENT] Capture app recording state changed: STOPPED (clip=%s)", clipPath)
				}
			})
			capClient.OnDisconnected(func() {
				errLog.Println("[EVENT] Capture app disconnected - will attempt reconnection")
			})

			capAdapter := recorder.NewCapWSAdapter(capClient)
			capAdapter.SetLogger(diagLogger)
			reg.Register("capws", capAdapter)
		}
	}
	if cfg.RecorderBackend == "capws" && capClient != nil {
		if err := reg.SetActive("capws"); err != nil {
			errLog.Printf("Failed to select capws backend: %v", err)
		}
	}
	outLog.Printf("[STARTUP] Recorder backends ready: %v (active=%s)", reg.Backends(), reg.ActiveName())

	// Camera manager
	outLog.Println("[STARTUP] Initializing camera manager...")
	cam := camera.NewManager(camera.NewDeviceOpener(), camera.Settings{
		DeviceID:  cfg.Camera.DeviceID,
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		FrameRate: float64(cfg.Camera.FrameRate),
	}, diagLogger)

	// Inference server client
	outLog.Println("[STARTUP] Initializing submission client for " + cfg.BaseURL() + "...")
	submitClient := submit.NewClient(submit.Config{BaseURL: cfg.BaseURL()})
	submitClient.SetLogger(diagLogger)
	go warmupLoop(submitClient)

	// Capture session
	outLog.Println("[STARTUP] Initializing capture session...")
	session := capture.NewSession(cam, reg.Active(), submitClient, mapper, diagLogger)
	if cfg.InitialWord != "" {
		if err := session.SetWord(cfg.InitialWord); err != nil {
			errLog.Printf("[STARTUP] Could not set initial word %q: %v", cfg.InitialWord, err)
		}
	}
	outLog.Printf("[STARTUP] Capture session ready (word=%q)", session.Word())

	clipDir := cfg.ClipDir
	if clipDir == "" {
		clipDir = filepath.Join(os.TempDir(), "signcoach-clips")
	}
	if err := os.MkdirAll(clipDir, 0755); err != nil {
		errLog.Printf("Failed to create clip directory %s: %v", clipDir, err)
		os.Exit(1)
	}
	outLog.Printf("[STARTUP] Clips will be saved to %s", clipDir)

	session.OnUpdate(func() {
		snap := session.Snapshot()
		persistVerdict(session, snap, mapper, reg, clipDir)
		if err := writeStatus(snap, mapper, reg); err != nil {
			errLog.Printf("Failed to write status: %v", err)
		}
	})

	// Status directory
	outLog.Println("[STARTUP] Creating status directory...")
	statusDir := filepath.Join(os.Getenv("HOME"), ".cache", "signcoach")
	if err := os.MkdirAll(statusDir, 0755); err != nil {
		errLog.Printf("Failed to create status directory: %v", err)
		os.Exit(1)
	}

	// Write initial status
	outLog.Println("[STARTUP] Writing initial status...")
	if err := writeStatus(session.Snapshot(), mapper, reg); err != nil {
		errLog.Printf("Failed to write initial status: %v", err)
	}

	// Start command file watcher
	outLog.Println("[STARTUP] Starting command file watcher...")
	go watchCommands(session, mapper, reg)

	// Heartbeat status ticker so reachability and timestamps stay fresh
	// even when no state transitions happen.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	outLog.Println("[STARTUP] Signal handlers registered (SIGINT, SIGTERM)")

	outLog.Println("===========================================")
	outLog.Println("[RUNNING] SignCoach Core is running")

	for {
		select {
		case <-ticker.C:
			if err := writeStatus(session.Snapshot(), mapper, reg); err != nil {
				errLog.Printf("Failed to write status: %v", err)
			}

		case <-sigChan:
			outLog.Println("===========================================")
			outLog.Printf("[SHUTDOWN] Received shutdown signal at %s", time.Now().Format(time.RFC3339))

			// Abort any active countdown, recording or upload before exit.
			session.Close()
			if err := writeStatus(session.Snapshot(), mapper, reg); err != nil {
				errLog.Printf("Failed to write final status: %v", err)
			}

			outLog.Println("[SHUTDOWN] Shutting down gracefully")
			outLog.Println("===========================================")
			return
		}
	}
}

// warmupLoop probes the inference server at startup and every 30s so the
// status file can report reachability before the first submission.
func warmupLoop(client *submit.Client) {
	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ok := client.Warmup(ctx)
		cancel()

		serverMu.Lock()
		was := serverReachable
		serverReachable = ok
		serverMu.Unlock()

		if ok && !was {
			outLog.Println("[EVENT] Inference server is reachable")
		} else if !ok && was {
			errLog.Println("[EVENT] Inference server is unreachable")
		}
	}

	check()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		check()
	}
}

// stateLabels maps session states to the plain strings the status file uses.
var stateLabels = map[capture.State]string{
	capture.StateIdle:          "idle",
	capture.StateCountdown:     "countdown",
	capture.StateRecording:     "recording",
	capture.StateReadyToSubmit: "ready",
	capture.StateProcessing:    "processing",
	capture.StateCorrect:       "correct",
	capture.StateIncorrect:     "incorrect",
}

// writeStatus updates the status.json file
func writeStatus(snap capture.Snapshot, mapper *vocab.Mapper, reg *recorder.Registry) error {
	serverMu.Lock()
	reachable := serverReachable
	serverMu.Unlock()

	predictedWord := ""
	if snap.PredictedClassID != "" {
		predictedWord, _ = mapper.WordForID(snap.PredictedClassID)
	}

	status := ipc.StatusSnapshot{
		State:              stateLabels[snap.State],
		Word:               snap.Word,
		ExpectedClassID:    snap.ExpectedClassID,
		CountdownRemaining: snap.CountdownRemaining,
		CameraHeld:         snap.CameraHeld,
		ClipAttached:       snap.ClipAttached,
		AttemptID:          snap.AttemptID,
		PredictedClassID:   snap.PredictedClassID,
		PredictedWord:      predictedWord,
		LastErrorKind:      snap.LastErrorKind,
		LastError:          snap.LastError,
		RecorderBackend:    reg.ActiveName(),
		RecorderConnected:  reg.Active().IsConnected(),
		ServerReachable:    reachable,
		Timestamp:          time.Now(),
	}

	return ipc.WriteStatus(&status)
}

// persistVerdict saves the graded clip and its sidecar metadata the first
// time an attempt reaches a verdict state.
func persistVerdict(session *capture.Session, snap capture.Snapshot, mapper *vocab.Mapper, reg *recorder.Registry, clipDir string) {
	if snap.State != capture.StateCorrect && snap.State != capture.StateIncorrect {
		return
	}
	if snap.AttemptID == "" {
		return
	}

	persistMu.Lock()
	if lastSavedAttempt == snap.AttemptID {
		persistMu.Unlock()
		return
	}
	lastSavedAttempt = snap.AttemptID
	persistMu.Unlock()

	clip := session.Clip()
	if clip == nil {
		return
	}

	clipPath := clip.Path
	if clipPath == "" {
		var err error
		clipPath, err = fileutil.SaveClip(clipDir, clip.Data, snap.Word, snap.AttemptID, clip.CreatedAt, extForMime(clip.MimeType))
		if err != nil {
			errLog.Printf("Failed to save clip for attempt %s: %v", snap.AttemptID, err)
			return
		}
		outLog.Printf("Clip saved: %s", clipPath)
	}

	verdict := "incorrect"
	if snap.State == capture.StateCorrect {
		verdict = "correct"
	}
	meta := &fileutil.AttemptMetadata{
		Version:          Version,
		AttemptID:        snap.AttemptID,
		Word:             snap.Word,
		ExpectedClassID:  snap.ExpectedClassID,
		PredictedClassID: snap.PredictedClassID,
		Verdict:          verdict,
		ErrorKind:        snap.LastErrorKind,
		RecordedAt:       clip.CreatedAt,
		Duration:         clip.Duration.String(),
		DurationMs:       clip.Duration.Milliseconds(),
		RecorderBackend:  reg.ActiveName(),
		ClipFile:         clipPath,
	}
	if err := fileutil.WriteMetadata(clipPath, meta); err != nil {
		errLog.Printf("Failed to write metadata for %s: %v", clipPath, err)
	}
}

func extForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "webm"), strings.Contains(mimeType, "VP8"), strings.Contains(mimeType, "VP9"):
		return "webm"
	case strings.Contains(mimeType, "mp4"):
		return "mp4"
	default:
		return "bin"
	}
}

// watchCommands monitors cmd.txt for control commands from the UI
func watchCommands(session *capture.Session, mapper *vocab.Mapper, reg *recorder.Registry) {
	cmdPath := ipc.CommandPath()
	cmdDir := filepath.Dir(cmdPath)

	// Try to use fsnotify for efficient file watching
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		watchCommandsWithPolling(cmdPath, session, mapper, reg)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			errLog.Printf("Failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(cmdDir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		watchCommandsWithPolling(cmdPath, session, mapper, reg)
		return
	}

	outLog.Println("Command watcher started (using fsnotify)")

	// Add fallback polling ticker in case fsnotify fails
	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()

	lastCheckTime := time.Now()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				outLog.Println("fsnotify watcher closed, switching to polling")
				watchCommandsWithPolling(cmdPath, session, mapper, reg)
				return
			}

			if event.Name == cmdPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				// Small delay to ensure write is complete
				time.Sleep(50 * time.Millisecond)

				cmd, arg, err := ipc.ReadCommand()
				if err != nil || cmd == "" {
					continue
				}

				handleCommand(cmd, arg, session, mapper, reg)
				lastCheckTime = time.Now()
			}

		case <-pollTicker.C:
			// Fallback polling: check for commands if file was modified since last check
			if fileInfo, err := os.Stat(cmdPath); err == nil {
				if fileInfo.ModTime().After(lastCheckTime) {
					time.Sleep(50 * time.Millisecond) // Ensure write is complete

					cmd, arg, err := ipc.ReadCommand()
					if err == nil && cmd != "" {
						handleCommand(cmd, arg, session, mapper, reg)
						lastCheckTime = time.Now()
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				outLog.Println("fsnotify error channel closed, switching to polling")
				watchCommandsWithPolling(cmdPath, session, mapper, reg)
				return
			}
			errLog.Printf("File watcher error: %v", err)
		}
	}
}

// watchCommandsWithPolling is a pure polling-based fallback for command monitoring
func watchCommandsWithPolling(cmdPath string, session *capture.Session, mapper *vocab.Mapper, reg *recorder.Registry) {
	outLog.Println("Command watcher started (using polling fallback, 1s interval)")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastCheckTime := time.Now()

	for range ticker.C {
		// Check if file was modified since last check
		fileInfo, err := os.Stat(cmdPath)
		if err != nil {
			continue // File doesn't exist yet, keep polling
		}

		if fileInfo.ModTime().After(lastCheckTime) {
			time.Sleep(50 * time.Millisecond) // Ensure write is complete

			cmd, arg, err := ipc.ReadCommand()
			if err == nil && cmd != "" {
				handleCommand(cmd, arg, session, mapper, reg)
			}
			lastCheckTime = time.Now()
		}
	}
}

// handleCommand processes control commands
func handleCommand(cmd ipc.Command, arg string, session *capture.Session, mapper *vocab.Mapper, reg *recorder.Registry) {
	outLog.Printf("Received command: %s %s", cmd, arg)

	switch cmd {
	case ipc.CmdStart:
		if err := session.Start(); err != nil {
			errLog.Printf("Start rejected: %v", err)
		}

	case ipc.CmdStop:
		if err := session.Stop(); err != nil {
			errLog.Printf("Stop rejected: %v", err)
		}

	case ipc.CmdSubmit:
		if err := session.Submit(); err != nil {
			errLog.Printf("Submit rejected: %v", err)
		}

	case ipc.CmdRetry:
		if err := session.Retry(); err != nil {
			errLog.Printf("Retry rejected: %v", err)
		}

	case ipc.CmdUpload:
		if arg == "" {
			errLog.Println("Upload command requires a file path")
			return
		}
		clip, err := clipFromFile(arg)
		if err != nil {
			errLog.Printf("Upload failed: %v", err)
			return
		}
		if err := session.AttachClip(clip); err != nil {
			errLog.Printf("Upload rejected: %v", err)
		}

	case ipc.CmdWord:
		if arg == "" {
			errLog.Println("Word command requires a word argument")
			return
		}
		if err := session.SetWord(arg); err != nil {
			errLog.Printf("Word change rejected: %v", err)
		}

	case ipc.CmdNext:
		if err := session.Next(); err != nil {
			errLog.Printf("Next rejected: %v", err)
		}

	case ipc.CmdPrevious:
		if err := session.Previous(); err != nil {
			errLog.Printf("Previous rejected: %v", err)
		}

	case ipc.CmdQuit:
		outLog.Println("Quit command received - shutting down")
		session.Close()
		if err := writeStatus(session.Snapshot(), mapper, reg); err != nil {
			errLog.Printf("Failed to write final status: %v", err)
		}
		os.Exit(0)

	default:
		errLog.Printf("Unknown command: %s", cmd)
	}
}

// clipFromFile loads a pre-recorded video file as an attachable clip.
func clipFromFile(path string) (*recorder.Clip, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a video file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mimeType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		mimeType = "video/webm"
	case ".mp4":
		mimeType = "video/mp4"
	case ".mov":
		mimeType = "video/quicktime"
	}

	return &recorder.Clip{
		ID:        uuid.New().String(),
		Data:      data,
		MimeType:  mimeType,
		Path:      path,
		CreatedAt: info.ModTime(),
	}, nil
}

// initLogging sets up log files with rotation support
func initLogging() error {
	logDir := "/tmp"

	// Rotate logs if they exceed 10MB
	outLogPath := filepath.Join(logDir, "signcoach-core.out.log")
	errLogPath := filepath.Join(logDir, "signcoach-core.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}

	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)

	return nil
}

// rotateLogIfNeeded rotates a log file if it exceeds maxSize bytes
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil // Log doesn't exist yet
	}
	if err != nil {
		return err
	}

	if info.Size() < maxSize {
		return nil // Log is under size limit
	}

	// Rotate: rename current log to .old, removing previous .old
	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}

	if err := os.Rename(logPath, oldPath); err != nil {
		return err
	}

	return nil
}
