package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/httpserver"
	"github.com/leadline-ai/leadline/internal/rtc"
	"github.com/leadline-ai/leadline/internal/store"
	"github.com/leadline-ai/leadline/internal/telephony"
)

func main() {
	// sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var st *store.Store
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		var err error
		st, err = store.New(store.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("store disabled: %v", err)
		}
	}

	rtcHandler := rtc.NewHandler(rtc.Config{
		AssemblyAIKey:   cfg.AssemblyAIKey,
		CerebrasKey:     cfg.CerebrasKey,
		CerebrasModel:   cfg.CerebrasModelID,
		DeepgramKey:     cfg.DeepgramKey,
		DeepgramModel:   cfg.DeepgramModel,
		ElevenLabsKey:   cfg.ElevenLabsKey,
		ElevenLabsVoice: cfg.ElevenLabsVoiceID,
		ICEServersJSON:  cfg.ICEServersJSON,
		AuthPassword:    cfg.AuthPassword,
	})
	if st != nil {
		rtcHandler = rtcHandler.WithStore(st)
	}

	deps := httpserver.Deps{RTC: rtcHandler}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		var storage telephony.Storage
		if st != nil {
			storage = st
		}
		deps.Telephony = telephony.New(telephony.Config{
			AccountSID:        cfg.TwilioAccountSID,
			AuthToken:         cfg.TwilioAuthToken,
			DestinationNumber: cfg.DestinationNumber,
			BaseURL:           cfg.BaseURL,
		}, storage)
	} else {
		log.Println("Twilio not configured - phone intake disabled")
	}

	srv := httpserver.New(cfg, deps)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
