package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// 사용법: check_db [boardId...]
// 설정된 저장소에 연결해 상태를 확인하고, 보드 ID 가 주어지면 스냅샷 요약을 출력한다.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw, closeStore, err := store.Open(ctx, cfg, zerolog.Nop())
	if err != nil {
		log.Fatal("Failed to open store: ", err)
	}
	defer func() { _ = closeStore() }()

	fmt.Printf("✅ Connected to %s store\n", cfg.Store.Driver)

	if p, ok := gw.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			log.Fatal("Ping failed: ", err)
		}
		fmt.Println("📡 Ping OK")
	}
	fmt.Println()

	for _, arg := range os.Args[1:] {
		id := model.BoardID(arg)
		snap, err := gw.Load(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fmt.Printf("❌ Board %s: not found\n", id)
			continue
		case err != nil:
			fmt.Printf("❌ Board %s: %v\n", id, err)
			continue
		}

		fmt.Printf("📋 Board %s\n", id)
		fmt.Printf("  - Version: %s\n", snap.FormatVersion)
		fmt.Printf("  - Objects: %d\n", snap.Len())

		kinds := make(map[model.Kind]int)
		for _, obj := range snap.Objects {
			kinds[obj.Kind]++
		}
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, string(k))
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Printf("    %s: %d\n", k, kinds[model.Kind(k)])
		}
		fmt.Println()
	}
}
