package submission

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// FolderNamingConvention is shown to sites whose folder name is malformed.
const FolderNamingConvention = "YYYY-MM-DD-vN"

var (
	folderNamePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-v[1-9]\d*/$`)
	rdrDatasetPattern = regexp.MustCompile(`^rdr(\d{4})(\d{2})(\d{2})$`)

	// ErrInvalidRDRDataset is wrapped when an RDR dataset id has no date.
	ErrInvalidRDRDataset = errors.New("invalid rdr dataset id")
)

// RootDirectory returns the top-level folder of name including the trailing
// "/", or "" when name sits at the bucket root.
func RootDirectory(name string) string {
	i := strings.Index(name, "/")
	if i < 0 {
		return ""
	}
	return name[:i+1]
}

// Basename returns name relative to its top-level folder, or "" when name
// sits at the bucket root.
func Basename(name string) string {
	i := strings.Index(name, "/")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// FolderItems returns the names below prefix with the prefix removed.
func FolderItems(items []model.BucketItem, prefix string) []string {
	var names []string
	for _, item := range items {
		if strings.HasPrefix(item.Name, prefix) {
			names = append(names, strings.TrimPrefix(item.Name, prefix))
		}
	}
	return names
}

// IsValidFolderName checks prefix against YYYY-MM-DD-vN/ with a real date.
func IsValidFolderName(prefix string) bool {
	if !folderNamePattern.MatchString(prefix) {
		return false
	}
	_, err := time.Parse("2006-01-02", prefix[:10])
	return err == nil
}

// IsFirstValidationRun reports whether the folder has not been processed yet.
func IsFirstValidationRun(folderItems []string) bool {
	for _, name := range folderItems {
		if name == ResultsHTML || name == ProcessedTxt {
			return false
		}
	}
	return true
}

// RDRDate extracts the YYYY-MM-DD date from an rdrYYYYMMDD dataset id.
func RDRDate(datasetID string) (string, error) {
	m := rdrDatasetPattern.FindStringSubmatch(datasetID)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRDRDataset, datasetID)
	}
	return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]), nil
}
