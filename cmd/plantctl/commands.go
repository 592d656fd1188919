package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/sighting"
	"github.com/onnwee/smartplant/internal/upload"
)

// operatorID is the actor recorded for operator commands.
const operatorID = "plantctl"

// requestIDPrefix marks request ids minted by the CLI.
const requestIDPrefix = "plantctl-"

// submitOutput is printed by submit.
type submitOutput struct {
	Sighting         *sighting.Sighting `json:"sighting"`
	Species          string             `json:"species"`
	Confidence       float64            `json:"confidence"`
	MatchedSpeciesID *string            `json:"matched_species_id"`
	States           []upload.State     `json:"states"`
}

func newSubmitCmd(c *cli) *cobra.Command {
	var (
		userID      string
		contentType string
		rarity      string
		lat, lng    float64
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload an image, identify it and record the sighting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(path))
			}
			if contentType == "" {
				return fmt.Errorf("cannot infer content type of %s; pass --type", path)
			}

			req := upload.SubmitRequest{
				OwnerID:     userID,
				Image:       f,
				Size:        info.Size(),
				ContentType: contentType,
				Rarity:      rarity,
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				req.Location = &sighting.Coordinate{Lat: lat, Lng: lng}
			}

			return c.withEnv(cmd, func(e *env) error {
				coord := upload.NewCoordinator(e.services.Tickets, e.writer, e.services.Identify, e.metrics.Upload, e.logger)
				sess := auth.Session{UserID: userID, Role: auth.RoleUser}
				ctx := middleware.WithRequestID(cmd.Context(), requestIDPrefix+uuid.NewString())
				receipt, err := coord.Submit(ctx, sess, req)
				if err != nil {
					return err
				}
				return c.print(submitOutput{
					Sighting:         receipt.Outcome.Sighting,
					Species:          receipt.Outcome.Result.Species,
					Confidence:       receipt.Outcome.Result.Confidence,
					MatchedSpeciesID: receipt.Outcome.MatchedSpeciesID(),
					States:           receipt.States,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner of the sighting")
	cmd.Flags().StringVarP(&contentType, "type", "t", "", "image MIME type (default from the file extension)")
	cmd.Flags().StringVar(&rarity, "rarity", "", "rarity class (common, uncommon, rare, endangered)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude of the sighting")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude of the sighting")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMaskCmd(c *cli) *cobra.Command {
	var enable bool
	cmd := &cobra.Command{
		Use:   "mask <id>",
		Short: "Mask or unmask a sighting's location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(e *env) error {
				sess := auth.Session{UserID: operatorID, Role: auth.RoleOperator}
				s, err := e.services.Engine.SetMasked(cmd.Context(), sess, args[0], enable)
				if err != nil {
					return err
				}
				return c.print(sighting.NewView(s, sighting.RoleOperator))
			})
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", true, "mask the location; --enable=false unmasks it")
	return cmd
}

func newListCmd(c *cli) *cobra.Command {
	var (
		admin bool
		f     sighting.Filter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sightings with the public or operator projection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := sighting.RolePublic
			if admin {
				role = sighting.RoleOperator
			}
			return c.withEnv(cmd, func(e *env) error {
				page, err := e.services.Engine.ListSightings(cmd.Context(), role, f)
				if err != nil {
					return err
				}
				return c.print(page)
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "show true coordinates of masked sightings")
	cmd.Flags().StringVar(&f.Species, "species", "", "filter by species substring")
	cmd.Flags().StringVar(&f.Rarity, "rarity", "", "filter by rarity class")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", 0, "page size (default server page size)")
	return cmd
}

func newSweepCmd(c *cli) *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete uploads that never became a sighting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(e *env) error {
				grace := olderThan
				if grace <= 0 {
					grace = e.cfg.SweepGrace
				}
				result, err := e.services.Sweeper.Run(cmd.Context(), upload.SweepOptions{
					OlderThan: grace,
					DryRun:    dryRun || e.cfg.SweepDryRun,
				})
				if err != nil {
					return err
				}
				return c.print(result)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum object age (default SWEEP_GRACE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	return cmd
}

func newTokenCmd(c *cli) *cobra.Command {
	var operator bool
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Mint a development access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load(c.configPath)
			if err != nil {
				return err
			}
			role := auth.RoleUser
			if operator {
				role = auth.RoleOperator
			}
			token, err := auth.NewJWTService(cfg.JWTSecret).GenerateAccessToken(args[0], role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, token)
			return err
		},
	}
	cmd.Flags().BoolVar(&operator, "operator", false, "grant the operator role")
	return cmd
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
