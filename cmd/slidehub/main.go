// Command slidehub is a thin terminal client for the slidehub server:
// list projects, pull one, upload a slide, fetch a tile. The heavy lifting
// lives in the internal packages; this file only wires them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"slidehub/internal/auth"
	"slidehub/internal/platform/config"
	"slidehub/internal/platform/logger"
	"slidehub/internal/platform/metrics"
	"slidehub/internal/project"
	"slidehub/internal/slides"
	"slidehub/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	log := logger.New()

	gw := auth.NewGateway(log)
	client := transport.New(cfg.ServerURL, gw, log, metrics.New(prometheus.DefaultRegisterer))
	client.SetTimeout(cfg.RequestTimeout)
	gw.SetWriteChecker(client.Auth())

	switch {
	case cfg.Token != "":
		gw.SetSession(auth.Session{Mode: auth.ModeToken, Token: cfg.Token})
	case cfg.Username != "":
		gw.SetSession(auth.Session{
			Mode:     auth.ModeCredential,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	default:
		gw.SetSession(auth.Session{Mode: auth.ModeGuest})
	}

	ctx := context.Background()
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "projects":
		err = listProjects(ctx, client)
	case "pull":
		err = pullProject(ctx, client, gw, args)
	case "upload-slide":
		err = uploadSlide(ctx, client, args)
	case "tile":
		err = fetchTile(ctx, client, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "slidehub:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: slidehub <command> [args]

commands:
  projects                          list projects on the server
  pull <id>                         load a project and print a summary
  upload-slide <file>               upload a slide file in 1 MiB chunks
  tile <slide-uri> <level> <x> <y>  fetch one tile and write tile.png

environment:
  SLIDEHUB_SERVER_URL, SLIDEHUB_TOKEN, SLIDEHUB_USER, SLIDEHUB_PASSWORD`)
}

func listProjects(ctx context.Context, client *transport.Client) error {
	docs, err := client.Projects().List(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		var summary struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(doc, &summary); err != nil {
			continue
		}
		fmt.Printf("%s\t%s\n", summary.ID, summary.Name)
	}
	return nil
}

func pullProject(ctx context.Context, client *transport.Client, gw *auth.Gateway, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("pull: expected a project id")
	}
	store := project.NewStore(client.Projects(), gw, logger.New(), nil)
	p, err := store.Load(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("project %s (%q), version %s, %d entries\n", p.ID, p.Name, p.Version, len(p.Entries))
	for _, entry := range p.Entries {
		fmt.Printf("  %d\t%s\t%s\n", entry.EntryID, entry.ImageName, entry.ServerBuilder.URI)
	}
	return nil
}

func uploadSlide(ctx context.Context, client *transport.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("upload-slide: expected a file path")
	}
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	uploader := slides.NewUploader(client.Slides(), logger.New(), nil)
	sent, err := uploader.Upload(ctx, info.Name(), file, info.Size(), func(fraction float64) {
		fmt.Printf("\rupload %.0f%%", fraction*100)
	})
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s in %d chunks\n", info.Name(), sent)
	return nil
}

func fetchTile(ctx context.Context, client *transport.Client, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("tile: expected <slide-uri> <level> <x> <y>")
	}
	level, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("tile: bad level %q", args[1])
	}
	x, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("tile: bad x %q", args[2])
	}
	y, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("tile: bad y %q", args[3])
	}

	server, err := slides.NewImageServer(ctx, args[0], client.Slides(), client, logger.New(), nil)
	if err != nil {
		return err
	}
	tileWidth, tileHeight := server.TileSize()
	img, err := server.ReadTile(ctx, slides.TileRequest{
		Level: level, TileX: x, TileY: y, TileWidth: tileWidth, TileHeight: tileHeight,
	})
	if err != nil {
		return err
	}
	if img == nil {
		return fmt.Errorf("tile: server produced no tile at level %d (%d,%d)", level, x, y)
	}

	out, err := os.Create("tile.png")
	if err != nil {
		return err
	}
	defer out.Close()
	if err := png.Encode(out, img); err != nil {
		return err
	}
	fmt.Println("wrote tile.png")
	return nil
}
