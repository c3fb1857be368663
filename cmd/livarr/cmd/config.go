package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing livarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the resolved configuration",
	Long: `Dump the resolved configuration values in YAML format.

This shows every configuration option after defaults, the config file,
and LIVARR_* environment variables have been applied. Run it without a
config file to get a template with the built-in defaults:

  livarr config dump > livarr.yaml

Configuration can be set via:
  - Config file (livarr.yaml in ., ./configs, /etc/livarr, $HOME/.livarr)
  - Environment variables (LIVARR_SERVER_PORT, LIVARR_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the LIVARR_ prefix and underscores for nesting.
Example: server.port -> LIVARR_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Get yaml tag or use lowercase field name
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		// Handle different types
		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.ByteSize:
			result[key] = v.String()
		default:
			switch {
			case field.Kind() == reflect.Struct:
				result[key] = toMap(field.Interface())
			case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Struct:
				items := make([]map[string]any, 0, field.Len())
				for j := 0; j < field.Len(); j++ {
					items = append(items, toMap(field.Index(j).Interface()))
				}
				result[key] = items
			default:
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Resolve through the same path serve uses: defaults, then the
	// config file, then LIVARR_* environment overrides.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Convert to map with human-readable values
	cfgMap := toMap(cfg)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# livarr Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# Values below are the resolved configuration.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   LIVARR_SERVER_HOST, LIVARR_SERVER_PORT")
	fmt.Println("#   LIVARR_DATABASE_DRIVER, LIVARR_DATABASE_DSN")
	fmt.Println("#   LIVARR_STORAGE_BASE_DIR, LIVARR_UPLOAD_ENABLED")
	fmt.Println("#   LIVARR_LOGGING_LEVEL, LIVARR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
