package rawimglib

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/sliceutils"
)

const (
	// DefaultMirror serves both the package repositories and the topics
	// manifest.
	DefaultMirror = "https://repo.aosc.io/debs"

	topicManifestURL = DefaultMirror + "/manifest/topics.json"
	atmListPath      = "etc/apt/sources.list.d/atm.list"
	atmStatePath     = "var/lib/atm/state"
)

// Topic is one entry of the topics manifest. The JSON layout follows the
// repository manager; arch and draft never reach the image and are dropped
// when the state file is written.
type Topic struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Date        uint64   `json:"date"`
	UpdateDate  uint64   `json:"update_date"`
	Arch        []string `json:"arch,omitempty"`
	Packages    []string `json:"packages"`
	Draft       bool     `json:"draft,omitempty"`
}

// topicState is the Topic shape persisted to var/lib/atm/state.
type topicState struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Date        uint64   `json:"date"`
	UpdateDate  uint64   `json:"update_date"`
	Packages    []string `json:"packages"`
}

// FetchTopics downloads the topics manifest from the repository.
func FetchTopics() ([]Topic, error) {
	return fetchTopicsFrom(topicManifestURL)
}

func fetchTopicsFrom(url string) ([]Topic, error) {
	logger.Log.Infof("Fetching topics manifest ...")

	client := retryablehttp.NewClient()
	client.Logger = nil
	response, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch the topics manifest:\n%w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != 200 {
		return nil, fmt.Errorf("topics manifest request failed with status %s", response.Status)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read the topics manifest:\n%w", err)
	}

	topics := []Topic{}
	err = json.Unmarshal(body, &topics)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the topics manifest:\n%w", err)
	}
	return topics, nil
}

// FilterTopics keeps the topics whose names were requested. Unknown names
// are fatal when nothing matches; a partial match only warns.
func FilterTopics(requested []string, all []Topic) ([]Topic, error) {
	logger.Log.Infof("Checking availability of specified topics ...")

	filtered := []Topic{}
	seen := []string{}
	for _, name := range requested {
		if sliceutils.ContainsValue(seen, name) {
			continue
		}
		seen = append(seen, name)

		topic, found := sliceutils.FindValueFunc(all, func(t Topic) bool {
			return t.Name == name
		})
		if !found {
			logger.Log.Warnf("Topic %s does not exist, skipping.", name)
			continue
		}
		filtered = append(filtered, topic)
	}

	if len(filtered) == 0 {
		names := make([]string, 0, len(all))
		for _, topic := range all {
			names = append(names, topic.Name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("none of the specified topics exist, available topics:\n%v", names)
	}
	return filtered, nil
}

// SaveTopics writes the topic package sources (atm.list) and the ATM state
// file into the target root filesystem.
func SaveTopics(rootDir string, mirror string, topics []Topic) error {
	logger.Log.Infof("Saving topic sources and ATM state ...")
	if mirror == "" {
		mirror = DefaultMirror
	}

	listPath := filepath.Join(rootDir, atmListPath)
	statePath := filepath.Join(rootDir, atmStatePath)
	for _, dir := range []string{filepath.Dir(listPath), filepath.Dir(statePath)} {
		err := file.EnsureDirExists(dir)
		if err != nil {
			return err
		}
	}

	sources := ""
	for _, topic := range topics {
		sources += fmt.Sprintf("deb %s %s main\n", mirror, topic.Name)
	}
	err := file.Write(sources, listPath)
	if err != nil {
		return fmt.Errorf("failed to write topic sources:\n%w", err)
	}

	states := make([]topicState, 0, len(topics))
	for _, topic := range topics {
		states = append(states, topicState{
			Name:        topic.Name,
			Description: topic.Description,
			Date:        topic.Date,
			UpdateDate:  topic.UpdateDate,
			Packages:    topic.Packages,
		})
	}

	stateJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to serialize the ATM state:\n%w", err)
	}
	err = file.Write(string(stateJSON), statePath)
	if err != nil {
		return fmt.Errorf("failed to write the ATM state:\n%w", err)
	}

	logger.Log.Infof("Saved %d topics into the target system.", len(topics))
	return nil
}

// saveTopics enables the job's topics inside the image, then upgrades the
// system so topic packages take effect.
func (ic *ImageContext) saveTopics(rootDir string) error {
	if len(ic.Topics) == 0 {
		return nil
	}

	ic.infof("Saving topics ...")
	err := SaveTopics(rootDir, ic.Mirror, ic.Topics)
	if err != nil {
		return err
	}
	return ic.upgradeSystem(rootDir)
}
