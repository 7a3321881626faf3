package tts

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSentenceBufferSplitsOnTerminators(t *testing.T) {
	var s SentenceBuffer
	var got []string
	for _, tok := range []string{"Thanks", ", Asha. ", "What is your ", "income? ", "Take your time"} {
		got = append(got, s.Add(tok)...)
	}
	if rem := s.Flush(); rem != "" {
		got = append(got, rem)
	}

	want := []string{"Thanks, Asha.", "What is your income?", "Take your time"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSentenceBufferNeverSplitsOnComma(t *testing.T) {
	var s SentenceBuffer
	if out := s.Add("one, two, three, "); len(out) != 0 {
		t.Fatalf("comma split: %v", out)
	}
	if rem := s.Flush(); rem != "one, two, three," {
		t.Errorf("flush = %q", rem)
	}
}

func TestSentenceBufferKeepsDecimalsIntact(t *testing.T) {
	var s SentenceBuffer
	out := s.Add("The rate is 3.")
	if len(out) != 0 {
		t.Fatalf("split mid-decimal: %v", out)
	}
	out = s.Add("5 percent. Sounds good?")
	if len(out) != 1 || out[0] != "The rate is 3.5 percent." {
		t.Fatalf("got %v", out)
	}
	if rem := s.Flush(); rem != "Sounds good?" {
		t.Errorf("flush = %q", rem)
	}
}

// wav builds a minimal valid PCM16 WAV file.
func wav(channels uint16, samples []int16) []byte {
	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, channels)
	binary.Write(&b, binary.LittleEndian, uint32(16000))
	binary.Write(&b, binary.LittleEndian, uint32(16000*2*uint32(channels)))
	binary.Write(&b, binary.LittleEndian, uint16(2*channels))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func TestReadWAVMono(t *testing.T) {
	pcm, err := readWAVPCM16(bytes.NewReader(wav(1, []int16{100, -100, 32000})))
	if err != nil {
		t.Fatalf("readWAVPCM16: %v", err)
	}
	if len(pcm) != 6 {
		t.Fatalf("pcm len = %d, want 6", len(pcm))
	}
	first := int16(binary.LittleEndian.Uint16(pcm))
	if first != 100 {
		t.Errorf("first sample = %d, want 100", first)
	}
}

func TestReadWAVStereoAveragesToMono(t *testing.T) {
	// L=1000 R=3000 averages to 2000.
	pcm, err := readWAVPCM16(bytes.NewReader(wav(2, []int16{1000, 3000, -500, 500})))
	if err != nil {
		t.Fatalf("readWAVPCM16: %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("pcm len = %d, want 4", len(pcm))
	}
	if got := int16(binary.LittleEndian.Uint16(pcm)); got != 2000 {
		t.Errorf("sample 0 = %d, want 2000", got)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[2:])); got != 0 {
		t.Errorf("sample 1 = %d, want 0", got)
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	if _, err := readWAVPCM16(bytes.NewReader([]byte("definitely not audio"))); err == nil {
		t.Fatal("expected error for non-WAV input")
	}
}
