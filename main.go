package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AUKUS561/GOSE/CONFIG"
	"github.com/AUKUS561/GOSE/DOCENC"
	"github.com/AUKUS561/GOSE/STORE"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

var cmds = cli.Commands{
	{
		Name:   "config",
		Usage:  "print a default gose.toml",
		Action: printConfig,
	},
	{
		Name:  "demo",
		Usage: "run a GM, a server and members in-process, upload documents and search them",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "docs",
				Usage: "directory whose files are uploaded; a built-in corpus is used if empty",
			},
			cli.StringFlag{
				Name:  "query, q",
				Value: "gold",
				Usage: "space-separated keywords to search for",
			},
			cli.StringFlag{
				Name:  "owner",
				Usage: "only return documents uploaded by this member",
			},
			cli.IntFlag{
				Name:  "members, m",
				Value: 3,
				Usage: "number of members besides the GM",
			},
		},
		Action: demo,
	},
	{
		Name:   "scenario",
		Usage:  "run the join / search / leave scenario and check its outcome",
		Action: scenario,
	},
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "gose"
	cliApp.Usage = "Group-oriented searchable encryption."
	cliApp.Version = "0.1"
	cliApp.Commands = cmds
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: -1,
			Usage: "debug-level: 1 for terse, 5 for maximal; overrides the config",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to gose.toml; defaults are used if empty",
		},
	}
	log.ErrFatal(cliApp.Run(os.Args))
}

// loadConfig reads the global flags and starts the metrics endpoint.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if fn := c.GlobalString("config"); fn != "" {
		var err error
		if cfg, err = config.LoadConfig(fn); err != nil {
			return nil, err
		}
	}
	if d := c.GlobalInt("debug"); d >= 0 {
		cfg.Debug = d
	}
	log.SetDebugVisible(cfg.Debug)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics endpoint:", err)
			}
		}()
		log.Lvl1("serving metrics on", cfg.MetricsAddr)
	}
	return cfg, nil
}

func printConfig(c *cli.Context) error {
	return config.Default().Write(os.Stdout)
}

func demo(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.OpenBolt(cfg.DBPath)
	if err != nil {
		return err
	}
	d, err := deploy(cfg, st)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	n := c.Int("members")
	if n < 1 {
		return xerrors.New("need at least one member")
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.New().String()
		if _, err := d.AddMember(ctx, ids[i]); err != nil {
			return err
		}
	}

	docs, err := readDocs(c.String("docs"))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		owner := d.Member(ids[i%n])
		keywords := docenc.ExtractKeywords(docs[name])
		if limit := cfg.IndexLength - 1; len(keywords) > limit {
			log.Warnf("%s: keeping %d of %d keywords", name, limit, len(keywords))
			keywords = keywords[:limit]
		}
		reply, err := owner.Upload(ctx, keywords, []byte(docs[name]))
		if err != nil {
			return xerrors.Errorf("uploading %s: %w", name, err)
		}
		fmt.Printf("uploaded %s as record %d by %s\n", name, reply.ID, owner.ID())
	}

	terms := strings.Fields(strings.ToLower(c.String("query")))
	res, err := d.Member(ids[0]).Search(ctx, terms, c.String("owner"))
	if err != nil {
		return err
	}
	fmt.Printf("search %v: %s, %d matches\n", terms, res.Status, len(res.Documents))
	for _, doc := range res.Documents {
		if doc.Err != nil {
			fmt.Printf("  record %d by %s: undecryptable: %v\n", doc.ID, doc.Owner, doc.Err)
			continue
		}
		fmt.Printf("  record %d by %s: %q\n", doc.ID, doc.Owner, doc.Plaintext)
	}
	return nil
}

var corpus = map[string]string{
	"report.txt":  "Gold reserves stayed steady while the dry season raised heat in the mines.",
	"memo.txt":    "The board approved the merger; gold hedging continues next quarter.",
	"weather.txt": "Dry heat expected across the region, steady winds from the south.",
}

func readDocs(dir string) (map[string]string, error) {
	if dir == "" {
		return corpus, nil
	}
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %v", dir, err)
	}
	docs := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		buf, err := ioutil.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		docs[e.Name()] = string(buf)
	}
	return docs, nil
}

func scenario(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// the scenario fixes l itself; index_length from the config is not used
	if cfg.IndexLength != scenarioIndexLength {
		log.Lvlf1("scenario: ignoring index_length = %d", cfg.IndexLength)
	}
	out, err := runScenario(context.Background(), cfg)
	if err != nil {
		return err
	}
	fmt.Printf("scenario runs with l=%d: owner id plus four keywords\n", out.IndexLength)
	fmt.Printf("full query: %d match(es)\n", out.FullMatches)
	fmt.Printf("query with a missing keyword: %d match(es)\n", out.MissMatches)
	fmt.Printf("after leave: %s\n", out.AfterLeave)
	if !out.OK() {
		return xerrors.New("scenario outcome differs from the expected one")
	}
	return nil
}
