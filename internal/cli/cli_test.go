package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/internal/ids"
	"github.com/kubev2v/ids-validator/internal/validation"
)

func TestCli(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CLI Suite")
}

const wallsIds = `<ids xmlns="http://standards.buildingsmart.org/IDS">
  <specifications>
    <specification name="External walls" identifier="W-01">
      <applicability>
        <entity><name><simpleValue>IfcWall</simpleValue></name></entity>
      </applicability>
      <requirements>
        <property>
          <propertySet><simpleValue>Pset_WallCommon</simpleValue></propertySet>
          <baseName><simpleValue>IsExternal</simpleValue></baseName>
        </property>
      </requirements>
    </specification>
  </specifications>
</ids>`

const rawJSON = `[
  {"modelId": "m", "localId": 1, "globalId": "w1", "rawData": {"type": "IfcWall", "psets": {"Pset_WallCommon": {"IsExternal": true}}}},
  {"modelId": "m", "localId": 2, "globalId": "w2", "rawData": {"type": "IfcWall"}},
  {"modelId": "m", "localId": 3, "rawData": {"type": "IfcSlab"}}
]`

const rawYAML = `elements:
  - modelId: m
    localId: 1
    globalId: w1
    rawData:
      type: IfcWall
`

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte(content), 0600)).To(Succeed())
	return path
}

var _ = Describe("readRecords", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("reads a JSON list", func() {
		records, err := readRecords(writeFile(dir, "raw.json", rawJSON))
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(3))
		Expect(records[0].GlobalID).To(Equal("w1"))
		Expect(records[2].LocalID).To(Equal(int64(3)))
	})

	It("reads a wrapped YAML document", func() {
		records, err := readRecords(writeFile(dir, "raw.yaml", rawYAML))
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(1))
		Expect(records[0].RawData).To(HaveKeyWithValue("type", "IfcWall"))
	})

	It("rejects an object without elements", func() {
		_, err := readRecords(writeFile(dir, "raw.json", `{"items": []}`))
		Expect(err).To(MatchError(ContainSubstring("has no elements list")))
	})

	It("reports a missing file", func() {
		_, err := readRecords(filepath.Join(dir, "missing.json"))
		Expect(err).To(MatchError(ContainSubstring("failed to read")))
	})
})

type failingCloser struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (f *failingCloser) Close() error {
	f.closed = true
	return f.closeErr
}

var _ = Describe("writeOutput", func() {
	It("returns the close error of the output", func() {
		out := &failingCloser{closeErr: errors.New("disk full")}
		err := writeOutput(out, func(w io.Writer) error {
			_, err := w.Write([]byte("report"))
			return err
		})
		Expect(err).To(MatchError(ContainSubstring("disk full")))
		Expect(out.String()).To(Equal("report"))
	})

	It("closes the output when writing fails", func() {
		out := &failingCloser{closeErr: errors.New("disk full")}
		err := writeOutput(out, func(io.Writer) error {
			return errors.New("render failed")
		})
		Expect(err).To(MatchError("render failed"))
		Expect(out.closed).To(BeTrue())
	})

	It("succeeds when the output closes cleanly", func() {
		out := &failingCloser{}
		Expect(writeOutput(out, func(io.Writer) error { return nil })).To(Succeed())
		Expect(out.closed).To(BeTrue())
	})
})

var _ = Describe("extract command", func() {
	It("validates its flags", func() {
		o := DefaultExtractOptions()
		Expect(o.Validate(nil)).To(MatchError("input file is required"))

		o.Input = "raw.json"
		o.Format = "xml"
		Expect(o.Validate(nil)).To(MatchError(ContainSubstring("output format must be one of")))

		o.Format = yamlFormat
		o.BatchSize = 0
		Expect(o.Validate(nil)).To(MatchError("batch size must be positive"))
	})

	It("writes the processed elements", func() {
		dir := GinkgoT().TempDir()
		o := DefaultExtractOptions()
		o.Input = writeFile(dir, "raw.json", rawJSON)
		o.Output = filepath.Join(dir, "out.json")
		o.Units = 2
		o.BatchSize = 1

		Expect(o.Run(context.Background(), nil)).To(Succeed())

		data, err := os.ReadFile(o.Output)
		Expect(err).To(BeNil())
		var out struct {
			Elements []extract.ProcessedElement `json:"elements"`
		}
		Expect(json.Unmarshal(data, &out)).To(Succeed())
		Expect(out.Elements).To(HaveLen(3))
		Expect(out.Elements[0].Psets).To(HaveKey("Pset_WallCommon"))
		Expect(out.Elements[2].IfcClass).To(Equal("IFCSLAB"))
	})
})

var _ = Describe("validate command", func() {
	It("rejects an unknown report format", func() {
		o := DefaultValidateOptions()
		o.IdsFile = "a.ids"
		o.ElementsFile = "raw.json"
		o.Format = "pdf"
		Expect(o.Validate(nil)).To(MatchError(ContainSubstring("report format must be one of")))
	})

	It("requires a positive chunk size", func() {
		o := DefaultValidateOptions()
		o.IdsFile = "a.ids"
		o.ElementsFile = "raw.json"
		o.Chunk = 0
		Expect(o.Validate(nil)).To(MatchError("chunk size must be positive"))
	})

	It("writes a csv report", func() {
		dir := GinkgoT().TempDir()
		o := DefaultValidateOptions()
		o.IdsFile = writeFile(dir, "walls.ids", wallsIds)
		o.ElementsFile = writeFile(dir, "raw.json", rawJSON)
		o.Output = filepath.Join(dir, "report.csv")
		o.Format = "csv"
		o.Chunk = 2
		o.OpaWorkers = 2
		Expect(o.Validate(nil)).To(Succeed())

		Expect(o.Run(context.Background(), nil)).To(Succeed())

		f, err := os.Open(o.Output)
		Expect(err).To(BeNil())
		defer f.Close()
		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		Expect(err).To(BeNil())

		Expect(rows).To(ContainElement([]string{"W-01", "External walls", "1", "1", "1", "50.0%"}))
		Expect(rows).To(ContainElement([]string{"w2", "w2", "IFCWALL", "W-01", "External walls", "fail", "property Pset_WallCommon.IsExternal must be provided"}))
	})

	It("fails on a document without specifications", func() {
		dir := GinkgoT().TempDir()
		o := DefaultValidateOptions()
		o.IdsFile = writeFile(dir, "empty.ids", "<ids/>")
		o.ElementsFile = writeFile(dir, "raw.json", rawJSON)
		o.Output = filepath.Join(dir, "report.csv")

		err := o.Run(context.Background(), nil)
		Expect(err).To(MatchError(ContainSubstring("no valid specifications found")))
		Expect(validation.KindOf(err)).To(Equal(validation.KindNoSpecifications))
		_, statErr := os.Stat(o.Output)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})
})

var _ = Describe("runEngine", func() {
	It("forwards an interrupt as a cancel request", func() {
		entered := make(chan struct{}, 1)
		release := make(chan struct{})
		engine := validation.NewEngine(ids.CompilerFunc(ids.Compile), validation.ChunkValidatorFunc(
			func(ctx context.Context, specs []ids.Specification, els []validation.Element) (*validation.ChunkResult, error) {
				select {
				case entered <- struct{}{}:
				default:
				}
				<-release
				return &validation.ChunkResult{}, nil
			}))

		elements := make([]validation.Element, 4)
		for i := range elements {
			elements[i] = validation.Element{ID: string(rune('a' + i)), IfcClass: "IFCWALL"}
		}

		interrupts := make(chan os.Signal)
		done := make(chan error, 1)
		go func() {
			_, err := runEngine(context.Background(), engine, validation.Request{
				Type:     validation.RequestValidate,
				IdsXML:   wallsIds,
				Elements: elements,
				Chunk:    1,
			}, interrupts)
			done <- err
		}()

		Eventually(entered, 5*time.Second).Should(Receive())
		// each interrupt is taken only after the previous cancel request reached the engine loop
		for i := 0; i < 3; i++ {
			interrupts <- syscall.SIGINT
		}
		close(release)

		var err error
		Eventually(done, 5*time.Second).Should(Receive(&err))
		Expect(validation.IsCancelled(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("validation cancelled")))
	})
})
