package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
)

var namePattern, _ = regexp.Compile("^[0-9a-zA-Z._-]+$")

// SensorKinds lists every data generator a node can run
var SensorKinds = []string{"temp", "per", "hum", "bar", "cloud", "snow", "water", "wind"}

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func NodeConfigValidator(node *NodeCfg) error {
	err := NameValidator(string(node.Id))
	if err != nil {
		return err
	}
	if node.Port == 0 {
		return fmt.Errorf("node.Port must be set")
	}
	if node.SearchMinPort > node.SearchMaxPort {
		return fmt.Errorf("search port range %d-%d is empty", node.SearchMinPort, node.SearchMaxPort)
	}
	if node.PitSize < 1 || node.CacheSize < 1 || node.LocationSize < 1 {
		return fmt.Errorf("table sizes must be positive")
	}
	if node.DataPrefix != "" {
		err = NameValidator(node.DataPrefix)
		if err != nil {
			return err
		}
	}
	for _, kind := range node.Sensors {
		if !slices.Contains(SensorKinds, kind) {
			return fmt.Errorf("unknown sensor %s, must be one of %v", kind, SensorKinds)
		}
	}
	if node.LogPath != "" {
		err = PathValidator(node.LogPath)
		if err != nil {
			return err
		}
	}
	return nil
}
