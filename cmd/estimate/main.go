package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"estimateur/server/config"
	"estimateur/server/internal/dvf"
	"estimateur/server/internal/geocoding"
	"estimateur/server/internal/market"
	"estimateur/server/internal/models"
	"estimateur/server/internal/report"
	"estimateur/server/internal/valuation"
	"estimateur/server/internal/workflow"
)

func main() {
	insee := flag.String("insee", "", "INSEE code of the commune (resolved from -city when empty)")
	city := flag.String("city", "", "commune name")
	area := flag.Float64("area", 0, "living area in m²")
	rooms := flag.Int("rooms", 0, "number of rooms")
	standing := flag.String("standing", "standard", "a-renover | standard | haut-de-gamme")
	demo := flag.Bool("demo", false, "use synthetic data instead of the DVF files")
	trim := flag.Bool("trim", true, "exclude prices outside the 5-95% quantile band")
	basis := flag.String("basis", "", "reference price: mean | trend (defaults to ANALYSIS_BASIS)")
	years := flag.String("years", "", "comma separated DVF years (defaults to DVF_YEARS)")
	xlsx := flag.String("xlsx", "", "write the report and the evolution chart to this xlsx file")
	verbose := flag.Bool("v", false, "log debug output to stderr")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	std, err := models.ParseStanding(*standing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "standing: %v\n", err)
		os.Exit(1)
	}
	b := cfg.Analysis.Basis
	if *basis != "" {
		b = *basis
	}
	refBasis, err := valuation.ParseBasis(b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "basis: %v\n", err)
		os.Exit(1)
	}
	if *years != "" {
		cfg.DVF.Years, err = parseYears(*years)
		if err != nil {
			fmt.Fprintf(os.Stderr, "years: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	property := models.Property{
		InseeCode:  strings.TrimSpace(*insee),
		City:       strings.TrimSpace(*city),
		LivingArea: *area,
		NumRooms:   *rooms,
		Standing:   std,
	}
	if err := resolveCommune(ctx, cfg, logger, &property); err != nil {
		fmt.Fprintf(os.Stderr, "commune: %v\n", err)
		os.Exit(1)
	}
	if err := property.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "property: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	var source dvf.Source
	if *demo || cfg.DVF.Demo {
		source = dvf.NewDemoSource()
	} else {
		source = dvf.NewClient(dvf.ClientConfig{
			BaseURL:           cfg.DVF.BaseURL,
			Years:             cfg.DVF.Years,
			Timeout:           cfg.DVF.Timeout,
			CacheDir:          cfg.DVF.CacheDir,
			RequestsPerSecond: cfg.DVF.RequestsPerSecond,
		}, logger)
	}

	estimator := workflow.NewEstimator(source, nil, workflow.Options{
		Analysis: market.Options{
			TrimOutliers:  *trim,
			LowerQuantile: cfg.Analysis.LowerQuantile,
			UpperQuantile: cfg.Analysis.UpperQuantile,
		},
		Basis: refBasis,
	}, logger)

	console := report.NewConsole(os.Stdout)
	console.Header(*demo || cfg.DVF.Demo)

	result, err := estimator.Estimate(ctx, property)
	if err != nil {
		console.Property(property)
		if console.Failure(err) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "estimate: %v\n", err)
		os.Exit(1)
	}
	console.Report(result)

	if *xlsx != "" {
		if err := report.SaveWorkbook(result, *xlsx); err != nil {
			fmt.Fprintf(os.Stderr, "xlsx: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Classeur enregistré : %s\n", *xlsx)
	}
}

// resolveCommune fills the INSEE code from the city name, or the city
// name from the INSEE code, using the commune directory and geo API.
func resolveCommune(ctx context.Context, cfg *config.Config, logger *logrus.Logger, p *models.Property) error {
	if p.InseeCode != "" && p.City != "" {
		return nil
	}
	query := p.InseeCode
	if query == "" {
		query = p.City
	}
	if query == "" {
		return fmt.Errorf("-insee or -city is required")
	}

	communes, err := config.LoadCommunes(cfg.Geo.CommunesFile)
	if err != nil {
		return err
	}
	cacheDir := cfg.Geo.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "estimateur", "geocode_cache")
	}

	commune, err := geocoding.NewResolver(logger, cfg.Geo.APIURL, cacheDir, communes).Resolve(ctx, query)
	if err != nil {
		if p.InseeCode != "" {
			// the name is cosmetic; keep going with the code alone
			logger.WithError(err).Warn("Failed to resolve commune name")
			p.City = p.InseeCode
			return nil
		}
		return fmt.Errorf("%q: %w", query, err)
	}
	p.InseeCode = commune.Code
	p.City = commune.Name
	return nil
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		y, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		years = append(years, y)
	}
	return years, nil
}
