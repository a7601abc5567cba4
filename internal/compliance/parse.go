package compliance

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// headerKeywords mark rows that are headers/notes rather than rules.
var headerKeywords = []string{"必备要素", "检查", "标准", "序号", "注："}

// skipCells are example-column values that carry no useful information.
var skipCells = map[string]struct{}{"合格": {}, "不涉及": {}, "None": {}, "": {}}

var ruleIDPrefix = regexp.MustCompile(`(?s)^(\d+)\s*(.+)`)

// ParseRules parses a rule file, dispatching on filename extension.
// Supported formats: CSV (any of utf-8-sig, utf-8, gbk, gb18030) and XLSX.
// Column A holds the rule text; any further columns are returned as
// few-shot examples of real violations the rule file's author previously
// recorded.
func ParseRules(fileBytes []byte, filename string) (rules []Rule, fewShotExamples []string, err error) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return parseXLSX(fileBytes)
	}
	return parseCSV(fileBytes)
}

func parseCSV(data []byte) ([]Rule, []string, error) {
	text, err := decodeBytes(data)
	if err != nil {
		return nil, nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("compliance: parse csv: %w", err)
		}
		if len(record) > 0 {
			rows = append(rows, record)
		}
	}
	return parseRuleRows(rows), collectExamples(rows), nil
}

func parseXLSX(data []byte) ([]Rule, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("compliance: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("compliance: xlsx file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("compliance: read xlsx rows: %w", err)
	}
	return parseRuleRows(rows), collectExamples(rows), nil
}

// parseRuleRows is the format-agnostic row-to-rule logic shared by the CSV
// and XLSX parsers.
func parseRuleRows(rows [][]string) []Rule {
	var rules []Rule
	for _, cells := range rows {
		colA := ""
		if len(cells) > 0 {
			colA = strings.TrimSpace(cells[0])
		}
		if colA == "" {
			continue
		}
		if hasAnyPrefix(colA, headerKeywords) {
			continue
		}
		if strings.HasPrefix(colA, "存在的问题") {
			break
		}

		id, content := splitRuleID(colA, len(rules)+1)
		if content == "" {
			continue
		}
		rules = append(rules, Rule{ID: id, Content: content})
	}
	return rules
}

func collectExamples(rows [][]string) []string {
	var examples []string
	ruleIdx := 0
	for _, cells := range rows {
		colA := ""
		if len(cells) > 0 {
			colA = strings.TrimSpace(cells[0])
		}
		if colA == "" || hasAnyPrefix(colA, headerKeywords) {
			continue
		}
		if strings.HasPrefix(colA, "存在的问题") {
			break
		}
		ruleIdx++
		id, content := splitRuleID(colA, ruleIdx)
		preview := content
		if len([]rune(preview)) > 20 {
			preview = string([]rune(preview)[:20])
		}
		for _, cell := range cells[1:] {
			cell = strings.TrimSpace(cell)
			if _, skip := skipCells[cell]; skip || cell == "" {
				continue
			}
			examples = append(examples, fmt.Sprintf("规则%d(%s...): %s", id, preview, cell))
		}
	}
	return examples
}

func hasAnyPrefix(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

// splitRuleID splits a cell like "4全程双录：..." into (4, "全程双录：...").
// Cells with no leading number fall back to a sequential id.
func splitRuleID(text string, fallbackID int) (int, string) {
	if m := ruleIDPrefix.FindStringSubmatch(text); m != nil {
		if id, err := strconv.Atoi(m[1]); err == nil {
			return id, strings.TrimSpace(m[2])
		}
	}
	return fallbackID, strings.TrimSpace(text)
}

// decodeBytes tries utf-8-sig, utf-8, gbk, and gb18030 in turn, matching the
// rule file's original multi-encoding tolerance for hand-edited CSVs.
func decodeBytes(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(stripBOM(data)), nil
	}

	for _, enc := range []encoding.Encoding{simplifiedchinese.GBK, simplifiedchinese.GB18030} {
		out, err := enc.NewDecoder().Bytes(data)
		if err == nil {
			return string(out), nil
		}
	}
	return "", fmt.Errorf("compliance: cannot decode file; expected utf-8 or gbk")
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
