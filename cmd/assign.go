package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/match"
	"github.com/nexus-community/groups-cli/internal/tree"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Resolve users into location hub groups",
}

func init() { rootCmd.AddCommand(assignCmd) }

var (
	assignUserLocation string
	assignUserLat      float64
	assignUserLon      float64
)

var assignUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Assign a single user to the hub hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		user := match.User{ID: userID, LocationText: assignUserLocation}
		if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
			user.Latitude = &assignUserLat
			user.Longitude = &assignUserLon
		}

		resolver := match.NewResolver(st, tree.NewEngine(st), match.Config{
			DistanceThresholdKM: cfg.Matching.DistanceThresholdKM,
			TextConfidence:      cfg.Matching.TextConfidence,
		})

		result, err := resolver.AssignUser(ctx, tenantID, user)
		if err != nil {
			return err
		}

		fmt.Printf("method: %s\n", result.Method)
		if result.Message != "" {
			fmt.Printf("message: %s\n", result.Message)
		}
		for _, mg := range result.MatchedGroups {
			note := "joined"
			if mg.AlreadyMember {
				note = "already member"
			}
			fmt.Printf("  %d\t%s\t(%s)\n", mg.Group.ID, mg.Group.Name, note)
		}
		return nil
	},
}

var assignBatchFile string

var assignBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Assign many users from a CSV file",
	Long:  "Reads rows of user_id,location_text[,lat,lon] and resolves each user concurrently. A failing row never aborts the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		ctx := cmd.Context()

		users, err := readUsersCSV(assignBatchFile)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			return eris.New("assign: no users in input file")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		resolver := match.NewResolver(st, tree.NewEngine(st), match.Config{
			DistanceThresholdKM: cfg.Matching.DistanceThresholdKM,
			TextConfidence:      cfg.Matching.TextConfidence,
		})

		outcomes := resolver.AssignBatch(ctx, tenantID, users, match.BatchOptions{
			Concurrency:     cfg.Matching.BatchConcurrency,
			WritesPerSecond: cfg.Matching.WritesPerSecond,
		})

		var assigned, unmatched, failed int
		for _, o := range outcomes {
			switch o.Status {
			case match.OutcomeAssigned:
				assigned++
			case match.OutcomeNoMatch:
				unmatched++
			case match.OutcomeError:
				failed++
				zap.L().Warn("assignment failed",
					zap.Int64("user_id", o.UserID), zap.String("error", o.Error))
			}
		}

		fmt.Printf("assigned %d, unmatched %d, failed %d of %d users\n",
			assigned, unmatched, failed, len(users))
		return nil
	},
}

func readUsersCSV(path string) ([]match.User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "assign: open input file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var users []match.User
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "assign: read csv")
		}
		line++
		if line == 1 && len(record) > 0 && record[0] == "user_id" {
			continue
		}
		if len(record) < 2 {
			return nil, eris.Errorf("assign: row %d: want at least user_id,location", line)
		}

		id, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, eris.Errorf("assign: row %d: invalid user id %q", line, record[0])
		}
		u := match.User{ID: id, LocationText: record[1]}
		if len(record) >= 4 && record[2] != "" && record[3] != "" {
			lat, latErr := strconv.ParseFloat(record[2], 64)
			lon, lonErr := strconv.ParseFloat(record[3], 64)
			if latErr != nil || lonErr != nil {
				return nil, eris.Errorf("assign: row %d: invalid coordinates", line)
			}
			u.Latitude = &lat
			u.Longitude = &lon
		}
		users = append(users, u)
	}
	return users, nil
}

func init() {
	assignUserCmd.Flags().StringVar(&assignUserLocation, "location", "", "free-text location (e.g. \"Springfield, Illinois\")")
	assignUserCmd.Flags().Float64Var(&assignUserLat, "lat", 0, "user latitude")
	assignUserCmd.Flags().Float64Var(&assignUserLon, "lon", 0, "user longitude")
	assignBatchCmd.Flags().StringVar(&assignBatchFile, "file", "", "CSV file of users to assign")
	_ = assignBatchCmd.MarkFlagRequired("file")

	assignCmd.AddCommand(assignUserCmd, assignBatchCmd)
}
