package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/snappy"
	"github.com/urfave/cli"

	"github.com/IreneByron/kinrel/kinrel"
)

func openTableConfig(tableName string) *kinrel.TableConfig {
	fname := os.Getenv("KINREL_CONFIG")
	if fname == "" {
		log.Fatalln("KINREL_CONFIG not specified")
	}

	f, err := os.Open(fname)
	if err != nil {
		log.Fatalln("Failed to open config", err)
	}
	defer f.Close()

	c, err := kinrel.NewConfigFromFile(f)
	if err != nil {
		log.Fatalln("Failed to load config", err)
	}

	tc, err := c.TableForName(tableName)
	if err != nil {
		log.Fatalln("Failed to load config for table", err)
	}

	return tc
}

func listShards(tableName string) {
	tc := openTableConfig(tableName)
	svc := kinrel.NewKinesisService(tc.RegionName)

	shards, err := kinrel.ListShards(svc, tc.StreamName)
	if err != nil {
		log.Fatalln("Failed to list shards:", err)
	}

	for _, sid := range shards {
		fmt.Println(sid)
	}
}

func scanTable(tableName string, columns []string, simulate bool, seedCount int) {
	tc := openTableConfig(tableName)

	var svc kinrel.KinesisService
	if simulate {
		var err error
		svc, err = seededSimulator(tc, seedCount)
		if err != nil {
			log.Fatalln("Failed to seed simulator:", err)
		}
	} else {
		svc = kinrel.NewKinesisService(tc.RegionName)
	}

	if len(columns) == 0 {
		for _, col := range tc.Columns {
			columns = append(columns, col.Name)
		}
		columns = append(columns, kinrel.ShardIDColumn, kinrel.MessageValidColumn)
	}

	scanner := kinrel.NewScanner(svc, tc, kinrel.ScanConfig{})
	scan, err := scanner.Scan(columns)
	if err != nil {
		log.Fatalln("Failed to start scan:", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		scan.Stop()
	}()

	out := json.NewEncoder(os.Stdout)
	for {
		row, err := scan.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Fatalln("Scan failed:", err)
		}

		obj := make(map[string]interface{}, len(row.Columns))
		for i, name := range row.Columns {
			obj[name] = row.Values[i]
		}
		if err := out.Encode(obj); err != nil {
			log.Fatalln("Failed to write row:", err)
		}
	}
}

// seededSimulator backs the offline scan mode: an in-memory stand-in for
// the service holding the table's stream, pre-filled with generated records
// matching the table's format.
func seededSimulator(tc *kinrel.TableConfig, count int) (kinrel.KinesisService, error) {
	sim := kinrel.NewSimulator()
	sim.CreateStream(tc.StreamName, 2)

	var batch []kinrel.ProducerRecord
	for i := 0; i < count; i++ {
		data, err := samplePayload(tc, i)
		if err != nil {
			return nil, err
		}
		batch = append(batch, kinrel.ProducerRecord{
			PartitionKey: strconv.Itoa(i),
			Data:         data,
		})
	}
	if len(batch) > 0 {
		if err := kinrel.NewWriter(sim, tc.StreamName).WriteRecords(batch...); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

func samplePayload(tc *kinrel.TableConfig, i int) ([]byte, error) {
	var data []byte
	switch tc.Format {
	case kinrel.FormatRaw:
		data = []byte(fmt.Sprintf("message-%d", i))
	case kinrel.FormatCSV:
		fields := make([]string, len(tc.Columns))
		for j, col := range tc.Columns {
			fields[j] = fmt.Sprintf("%v", sampleValue(col.Type, i))
		}
		data = []byte(strings.Join(fields, tc.Separator))
	case kinrel.FormatJSON:
		var err error
		data, err = json.Marshal(sampleDocument(tc, i))
		if err != nil {
			return nil, err
		}
	case kinrel.FormatMsgpack:
		var err error
		data, err = kinrel.MarshalMap(sampleDocument(tc, i))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", tc.Format)
	}

	if tc.Compression == "snappy" {
		data = snappy.Encode(nil, data)
	}
	return data, nil
}

func sampleDocument(tc *kinrel.TableConfig, i int) map[string]interface{} {
	doc := make(map[string]interface{})
	for _, col := range tc.Columns {
		path := col.Path
		if path == "" {
			path = col.Name
		}
		setPath(doc, path, sampleValue(col.Type, i))
	}
	return doc
}

func setPath(doc map[string]interface{}, path string, v interface{}) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := doc[p].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			doc[p] = child
		}
		doc = child
	}
	doc[parts[len(parts)-1]] = v
}

func sampleValue(typ string, i int) interface{} {
	switch typ {
	case kinrel.TypeBigint:
		return int64(i)
	case kinrel.TypeDouble:
		return float64(i) + 0.5
	case kinrel.TypeBoolean:
		return i%2 == 0
	default:
		return fmt.Sprintf("value-%d", i)
	}
}

// putLines writes each line of stdin as one raw record, partitioned by line
// number like the usual smoke-test producers.
func putLines(tableName string) {
	tc := openTableConfig(tableName)
	svc := kinrel.NewKinesisService(tc.RegionName)
	w := kinrel.NewWriter(svc, tc.StreamName)

	var batch []kinrel.ProducerRecord
	n := 0
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		batch = append(batch, kinrel.ProducerRecord{
			PartitionKey: strconv.Itoa(n),
			Data:         append([]byte(nil), in.Bytes()...),
		})
		n++
		if len(batch) == 500 {
			if err := w.WriteRecords(batch...); err != nil {
				log.Fatalln("Failed to write records:", err)
			}
			batch = batch[:0]
		}
	}
	if err := in.Err(); err != nil {
		log.Fatalln("Failed reading stdin:", err)
	}
	if len(batch) > 0 {
		if err := w.WriteRecords(batch...); err != nil {
			log.Fatalln("Failed to write records:", err)
		}
	}
	log.Printf("Wrote %d records to %s", n, tc.StreamName)
}

func main() {
	app := cli.NewApp()
	app.Name = "kinrel"
	app.Usage = "scan shard-partitioned streams as typed relations"

	app.Commands = []cli.Command{
		{
			Name:  "shards",
			Usage: "list the shards of a table's stream",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "table", Usage: "configured table name"},
			},
			Action: func(c *cli.Context) error {
				listShards(c.String("table"))
				return nil
			},
		},
		{
			Name:  "scan",
			Usage: "scan a table and print rows as JSON lines",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "table", Usage: "configured table name"},
				cli.StringFlag{Name: "columns", Usage: "comma-separated projection (default: all decoded columns plus _shard_id, _message_valid)"},
				cli.BoolFlag{Name: "simulate", Usage: "scan a seeded in-memory simulator instead of the real service"},
				cli.IntFlag{Name: "records", Value: 25, Usage: "records to seed in --simulate mode"},
			},
			Action: func(c *cli.Context) error {
				var columns []string
				if cs := c.String("columns"); cs != "" {
					columns = strings.Split(cs, ",")
				}
				scanTable(c.String("table"), columns, c.Bool("simulate"), c.Int("records"))
				return nil
			},
		},
		{
			Name:  "put",
			Usage: "write stdin lines to a table's stream as raw records",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "table", Usage: "configured table name"},
			},
			Action: func(c *cli.Context) error {
				putLines(c.String("table"))
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
