package main

import (
	"context"
	"fmt"
	"os"

	"codejudge/internal/common/storage"
	"codejudge/internal/judge/catalog"

	"github.com/urfave/cli/v3"
)

// packCommand validates and publishes problem directories as data packs.
func packCommand() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "problem data pack tools",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "validate a problem directory",
				ArgsUsage: "<dir>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dir := cmd.Args().First()
					if dir == "" {
						return fmt.Errorf("problem directory is required")
					}
					p, err := catalog.LoadProblemDir(dir)
					if err != nil {
						return err
					}
					visible := 0
					for _, tc := range p.TestCases {
						if tc.Visible() {
							visible++
						}
					}
					fmt.Printf("%s: %d test cases (%d visible)\n", p.ID, len(p.TestCases), visible)
					return nil
				},
			},
			{
				Name:      "push",
				Usage:     "upload a problem directory to object storage",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "endpoint", Usage: "minio endpoint", Sources: cli.EnvVars("MINIO_ENDPOINT")},
					&cli.StringFlag{Name: "access-key", Sources: cli.EnvVars("MINIO_ACCESS_KEY")},
					&cli.StringFlag{Name: "secret-key", Sources: cli.EnvVars("MINIO_SECRET_KEY")},
					&cli.BoolFlag{Name: "ssl", Usage: "use TLS for minio"},
					&cli.StringFlag{Name: "region", Sources: cli.EnvVars("MINIO_REGION")},
					&cli.StringFlag{Name: "bucket", Value: "problems", Sources: cli.EnvVars("MINIO_BUCKET")},
					&cli.StringFlag{Name: "prefix", Value: "packs/"},
				},
				Action: pushPack,
			},
		},
	}
}

func pushPack(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.Args().First()
	if dir == "" {
		return fmt.Errorf("problem directory is required")
	}
	objects, err := storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:  cmd.String("endpoint"),
		AccessKey: cmd.String("access-key"),
		SecretKey: cmd.String("secret-key"),
		UseSSL:    cmd.Bool("ssl"),
		Region:    cmd.String("region"),
		Bucket:    cmd.String("bucket"),
	})
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx, cmd.String("bucket")); err != nil {
		return err
	}
	cacheDir, err := os.MkdirTemp("", "judgectl-pack-")
	if err != nil {
		return fmt.Errorf("create cache dir failed: %w", err)
	}
	defer os.RemoveAll(cacheDir)

	packs, err := catalog.NewDataPackCatalog(catalog.DataPackConfig{
		Bucket:   cmd.String("bucket"),
		Prefix:   cmd.String("prefix"),
		CacheDir: cacheDir,
	}, objects, nil)
	if err != nil {
		return err
	}
	key, err := packs.Publish(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Printf("published %s to %s/%s\n", dir, cmd.String("bucket"), key)
	return nil
}
