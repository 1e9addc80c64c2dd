package commands

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samvad-hq/amplitude-cohorts/pkg/cohorts"
)

var errUploadRejected = errors.New("cohort upload rejected by the API")

type uploadFlags struct {
	name        string
	owner       string
	appID       string
	idType      string
	ids         []string
	idsFile     string
	requestFile string
	published   bool
	force       bool
}

func uploadCommand(rt *runtime) *cobra.Command {
	var f uploadFlags

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Create a cohort from user or Amplitude ids",
		Long: `Create a cohort from an explicit id list.

Either pass the fields as flags or provide a JSON document with --request-file
using the API field names (name, app_id, id_type, ids, owner, published).
An identical upload accepted earlier is skipped unless --force is set.`,
		Args: cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			req, err := f.request(cmd)
			if err != nil {
				return err
			}

			res, err := rt.app.Upload(cmd.Context(), rt.project, req, f.force)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Created {
				return errUploadRejected
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&f.name, "name", "", "Cohort name")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Login email of the cohort owner")
	cmd.Flags().StringVar(&f.appID, "app-id", "", "Amplitude project id (default: the project's app_id)")
	cmd.Flags().StringVar(&f.idType, "id-type", string(cohorts.IDTypeUserID), "BY_AMP_ID or BY_USER_ID")
	cmd.Flags().StringSliceVar(&f.ids, "ids", nil, "Comma separated ids")
	cmd.Flags().StringVar(&f.idsFile, "ids-file", "", "File with one id per line")
	cmd.Flags().StringVar(&f.requestFile, "request-file", "", "JSON upload request")
	cmd.Flags().BoolVar(&f.published, "published", true, "Make the cohort discoverable")
	cmd.Flags().BoolVar(&f.force, "force", false, "Upload even if an identical upload was accepted")
	return cmd
}

func (f uploadFlags) request(cmd *cobra.Command) (cohorts.UploadRequest, error) {
	if f.requestFile != "" {
		raw, err := os.ReadFile(f.requestFile)
		if err != nil {
			return cohorts.UploadRequest{}, fmt.Errorf("read request file: %w", err)
		}
		return cohorts.DecodeUploadRequest(raw)
	}

	ids := append([]string(nil), f.ids...)
	if f.idsFile != "" {
		fromFile, err := readIDs(f.idsFile)
		if err != nil {
			return cohorts.UploadRequest{}, err
		}
		ids = append(ids, fromFile...)
	}

	req := cohorts.UploadRequest{
		Name:   strings.TrimSpace(f.name),
		AppID:  cohorts.AppID(strings.TrimSpace(f.appID)),
		IDType: cohorts.IDType(strings.TrimSpace(f.idType)),
		IDs:    ids,
		Owner:  strings.TrimSpace(f.owner),
	}
	if cmd.Flags().Changed("published") {
		published := f.published
		req.Published = &published
	}
	return req, nil
}

func readIDs(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ids file: %w", err)
	}

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ids file: %w", err)
	}
	return ids, nil
}
