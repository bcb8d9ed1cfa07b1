package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emulator"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/ingest"
)

func main() {
	engineURL := getEnvString("ENGINE_WS_URL", "ws://localhost:8080/ws/ingest")
	sessionID := getEnvString("SESSION_ID", uuid.New().String())
	frameRateHz := getEnvInt("FRAME_RATE_HZ", 5)
	biometricRateHz := getEnvInt("BIOMETRIC_RATE_HZ", 1)
	seed := time.Now().UnixNano()

	url := engineURL + "?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("[FATAL] Failed to connect to engine at %s: %v", url, err)
	}
	defer conn.Close()

	log.Printf("[INFO] Emulator connected: session=%s frame_rate=%dHz biometric_rate=%dHz",
		sessionID, frameRateHz, biometricRateHz)

	started := time.Now()
	frames := emulator.NewFrameGenerator(seed, started)
	biometrics := emulator.NewBiometricGenerator(seed+1, frames)

	frameTicker := time.NewTicker(time.Second / time.Duration(frameRateHz))
	defer frameTicker.Stop()
	biometricTicker := time.NewTicker(time.Second / time.Duration(biometricRateHz))
	defer biometricTicker.Stop()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	var framesSent, readingsSent int64

	for {
		select {
		case ts := <-frameTicker.C:
			channels, quality := frames.NextFrame(ts)
			msg := ingest.Message{
				Type:        "frame",
				TimestampMS: ts.UnixMilli(),
				Channels:    channels,
				Quality:     quality,
			}
			if err := writeJSON(conn, msg); err != nil {
				log.Fatalf("[FATAL] Failed to send frame: %v", err)
			}
			framesSent++

		case ts := <-biometricTicker.C:
			reading := biometrics.NextReading(ts)
			msg := ingest.Message{
				Type:        "biometric",
				TimestampMS: ts.UnixMilli(),
				Biometric:   &reading,
			}
			if err := writeJSON(conn, msg); err != nil {
				log.Fatalf("[FATAL] Failed to send biometric: %v", err)
			}
			readingsSent++

		case sig := <-shutdownChan:
			log.Printf("[INFO] Received signal %v, stopping emulator", sig)
			log.Printf("[INFO] Emulator stopped: frames=%d biometrics=%d phase=%s",
				framesSent, readingsSent, frames.CurrentPhase(time.Now()))
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg ingest.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
