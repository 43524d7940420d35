package transform

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/toxichempy/toxichem/pkg/tabular"
)

func chemicalDisease() *tabular.Dataset {
	ds := tabular.NewDataset("# Input", "ChemicalName", "DiseaseID", "DirectEvidence")
	ds.Append("# Input", "ChemicalName", "DiseaseID", "DirectEvidence")
	ds.Append("aspirin", "Aspirin", "MESH:D001", "marker/mechanism")
	ds.Append("aspirin", "Aspirin", "MESH:D002", "therapeutic")
	ds.Append("aspirin", "Aspirin", "MESH:D001", "marker/mechanism")
	ds.Append("bpa", "Bisphenol A", "MESH:D003", "marker/mechanism")
	ds.Append("bpa", "Bisphenol A", nil, "marker/mechanism")
	ds.Append(nil, "Unknown", "MESH:D009", nil)
	return ds
}

func TestFilter(t *testing.T) {
	out, err := Filter(chemicalDisease(), "DirectEvidence", "marker/mechanism")
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if out.Len() != 4 {
		t.Errorf("Expected 4 rows, got %d", out.Len())
	}
	if _, err := Filter(chemicalDisease(), "Missing", "x"); err == nil {
		t.Error("Expected error for unknown column")
	}

	numbers := tabular.NewDataset("n")
	numbers.Append(int64(5))
	numbers.Append(int64(6))
	if out, _ := Filter(numbers, "n", "5"); out.Len() != 1 {
		t.Errorf("Expected numeric cell to match its text form")
	}
}

func TestAggregate(t *testing.T) {
	out, err := Aggregate(chemicalDisease(), []string{"# Input", "ChemicalName"}, "DiseaseID")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	expected := tabular.NewDataset("# Input", "ChemicalName", "DiseaseID")
	expected.Append("aspirin", "Aspirin", "MESH:D001, MESH:D002")
	expected.Append("bpa", "Bisphenol A", "MESH:D003")
	if !out.Equal(expected) {
		t.Errorf("Unexpected aggregate.\nExpected: %v\nGot: %v", expected.Rows, out.Rows)
	}
}

func TestDropHeaderRows(t *testing.T) {
	ds := tabular.NewDataset("# Input", "GeneSymbol")
	ds.Append("TP53", "TP53")
	ds.Append("# Input", "GeneSymbol")
	ds.Append("IL6", "IL6")

	out := DropHeaderRows(ds)
	if out.Len() != 2 || out.Rows[1][0] != "IL6" {
		t.Errorf("Unexpected rows %v", out.Rows)
	}
	if ds.Len() != 3 {
		t.Error("Input must not be modified")
	}
}

func TestAggregate_AllValuesMissing(t *testing.T) {
	ds := tabular.NewDataset("k", "v")
	ds.Append("a", nil)
	out, err := Aggregate(ds, []string{"k"}, "v")
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 || out.Rows[0][1] != nil {
		t.Errorf("Expected one group with nil list, got %v", out.Rows)
	}
}

func TestLeftJoin(t *testing.T) {
	left := tabular.NewDataset("ChemicalID", "DiseaseID", "Score")
	left.Append("C1", "D1", int64(1))
	left.Append("C2", "D2", int64(2))
	left.Append("C3", "D1", int64(3))

	right := tabular.NewDataset("DiseaseID", "GeneSymbol", "Score")
	right.Append("D1", "TP53, IL6", int64(10))
	right.Append("D1", "BRCA1", int64(11))

	out, err := LeftJoin(left, right, []string{"DiseaseID"})
	if err != nil {
		t.Fatalf("LeftJoin failed: %v", err)
	}

	cols := []string{"ChemicalID", "DiseaseID", "Score", "GeneSymbol", "Score_y"}
	if !reflect.DeepEqual(out.Columns, cols) {
		t.Fatalf("Expected columns %v, got %v", cols, out.Columns)
	}
	expected := [][]any{
		{"C1", "D1", int64(1), "TP53, IL6", int64(10)},
		{"C1", "D1", int64(1), "BRCA1", int64(11)},
		{"C2", "D2", int64(2), nil, nil},
		{"C3", "D1", int64(3), "TP53, IL6", int64(10)},
		{"C3", "D1", int64(3), "BRCA1", int64(11)},
	}
	if !reflect.DeepEqual(out.Rows, expected) {
		t.Errorf("Unexpected rows:\n%v", out.Rows)
	}

	if _, err := LeftJoin(left, right, []string{"ChemicalID"}); err == nil {
		t.Error("Expected error when the right side lacks the key")
	}
}

func TestRenameSelect(t *testing.T) {
	ds := chemicalDisease()
	renamed, err := Rename(ds, "ChemicalName", "Name")
	if err != nil {
		t.Fatal(err)
	}
	if renamed.ColumnIndex("Name") != 1 || ds.ColumnIndex("ChemicalName") != 1 {
		t.Error("Rename must not modify its input")
	}
	if _, err := Rename(ds, "ChemicalName", "DiseaseID"); err == nil {
		t.Error("Expected error renaming onto an existing column")
	}

	selected, err := Select(ds, "DiseaseID", "# Input")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(selected.Columns, []string{"DiseaseID", "# Input"}) || selected.Rows[1][0] != "MESH:D001" {
		t.Errorf("Unexpected projection %v %v", selected.Columns, selected.Rows[1])
	}
}

func TestUnique(t *testing.T) {
	got, err := Unique(chemicalDisease(), "DiseaseID")
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"DiseaseID", "MESH:D001", "MESH:D002", "MESH:D003", "MESH:D009"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestListOperations(t *testing.T) {
	if got := SplitList(" TP53, ,IL6,nan,NaN, BRCA1 "); !reflect.DeepEqual(got, []string{"TP53", "IL6", "BRCA1"}) {
		t.Errorf("Unexpected split %v", got)
	}
	if got := Intersect([]string{"c", "a", "b", "a"}, []string{"a", "c"}); !reflect.DeepEqual(got, []string{"c", "a"}) {
		t.Errorf("Unexpected intersection %v", got)
	}

	ds := tabular.NewDataset("ChemicalGeneSymbol", "DiseaseGeneSymbol")
	ds.Append("TP53, IL6, AKT1", "IL6, TP53")
	ds.Append("BRCA1", "TP53")
	ds.Append(nil, "TP53")

	out, err := CommonValues(ds, "ChemicalGeneSymbol", "DiseaseGeneSymbol", "common")
	if err != nil {
		t.Fatal(err)
	}
	if out.Value(0, "common") != "TP53, IL6" || out.Value(1, "common") != nil || out.Value(2, "common") != nil {
		t.Errorf("Unexpected common values %v", out.Rows)
	}

	values, err := UniqueListValues(out, "ChemicalGeneSymbol")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(values, []string{"AKT1", "BRCA1", "IL6", "TP53"}) {
		t.Errorf("Unexpected unique list values %v", values)
	}
}

func TestGroupListsLookup(t *testing.T) {
	ontology := tabular.NewDataset("GeneSymbol", "GoTermID")
	ontology.Append("TP53", "GO:1, GO:2")
	ontology.Append("IL6", "GO:2")
	ontology.Append("TP53", "GO:3")

	lookup, err := GroupLists(ontology, "GeneSymbol", "GoTermID")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lookup["TP53"], []string{"GO:1", "GO:2", "GO:3"}) {
		t.Errorf("Unexpected TP53 terms %v", lookup["TP53"])
	}

	genes := tabular.NewDataset("common")
	genes.Append("TP53, IL6")
	genes.Append("AKT1")
	out, err := Lookup(genes, "common", lookup, "ontology")
	if err != nil {
		t.Fatal(err)
	}
	if out.Value(0, "ontology") != "GO:1, GO:2, GO:3" || out.Value(1, "ontology") != nil {
		t.Errorf("Unexpected lookup %v", out.Rows)
	}
}

func TestSummarize(t *testing.T) {
	summaries := Summarize(chemicalDisease())
	if summaries[2].Name != "DiseaseID" || summaries[2].Unique != 5 || summaries[2].Missing != 1 {
		t.Errorf("Unexpected summary %+v", summaries[2])
	}

	var buf bytes.Buffer
	if err := WriteSummary(&buf, summaries[:1]); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Column: # Input\n  Unique values: 3\n  Missing values: 1\n") {
		t.Errorf("Unexpected summary text %q", buf.String())
	}
}

func TestTermListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chemical.txt")
	if err := os.WriteFile(path, []byte("C001\n\n  C002 \r\nC003"), 0644); err != nil {
		t.Fatal(err)
	}
	terms, err := ReadTermList(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(terms, []string{"C001", "C002", "C003"}) {
		t.Fatalf("Unexpected terms %v", terms)
	}

	out := filepath.Join(t.TempDir(), "copy.txt")
	if err := WriteTermList(out, terms); err != nil {
		t.Fatal(err)
	}
	again, err := ReadTermList(out)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again, terms) {
		t.Errorf("Round trip mismatch %v", again)
	}

	if _, err := ReadTermList(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("Expected error for missing file")
	}
}
