package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sweetpotato0/esg-rag/rag/esg"
)

func TestPrintResponse(t *testing.T) {
	var buf bytes.Buffer
	printResponse(&buf, &esg.Response{Answer: "台積電 2022 年範疇一排放 …", Sources: []string{"2330_2022.pdf", "2330_2021.pdf"}})
	assert.Equal(t, "台積電 2022 年範疇一排放 …\n\n資料來源：\n  - 2330_2022.pdf\n  - 2330_2021.pdf\n", buf.String())

	buf.Reset()
	printResponse(&buf, &esg.Response{Answer: "請告訴我公司名稱", Sources: []string{}, Guidance: true})
	assert.Equal(t, "請告訴我公司名稱\n", buf.String())
}
