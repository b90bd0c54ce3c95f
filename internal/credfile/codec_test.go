package credfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/credmux/credmux/internal/credfile"
	"github.com/credmux/credmux/internal/session"
	ini "gopkg.in/ini.v1"
)

func testMaterial() *session.CredentialMaterial {
	return &session.CredentialMaterial{
		AccessKeyID:     "ASIAV3ZUEFP6EXAMPLE",
		SecretAccessKey: "8P+SQvWIuLnKhh8d++jpw0nNmQRBZvNEXAMPLEKEY",
		SessionToken:    "IQoJb3JpZ2luX2VjEOz",
		Region:          "eu-west-1",
		ExpiresAt:       time.Now().Add(15 * time.Minute),
	}
}

func newCodec(t *testing.T) (*credfile.Codec, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials")
	codec, err := credfile.New(path)
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	return codec, path
}

func Test_Apply_writes_profile_block(t *testing.T) {
	codec, path := newCodec(t)

	if err := codec.Apply("dev", testMaterial()); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	sect := cfg.Section("dev")
	ttests := map[string]string{
		"aws_access_key_id":     "ASIAV3ZUEFP6EXAMPLE",
		"aws_secret_access_key": "8P+SQvWIuLnKhh8d++jpw0nNmQRBZvNEXAMPLEKEY",
		"aws_session_token":     "IQoJb3JpZ2luX2VjEOz",
		"region":                "eu-west-1",
	}
	for key, want := range ttests {
		if got := sect.Key(key).String(); got != want {
			t.Errorf("%s: got %s, wanted %s", key, got, want)
		}
	}
}

func Test_Apply_then_DeApply_restores_other_profiles_byte_for_byte(t *testing.T) {
	codec, path := newCodec(t)

	other := testMaterial()
	other.AccessKeyID = "AKIAOTHER"
	if err := codec.Apply("other", other); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := codec.Apply("dev", testMaterial()); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	has, err := codec.Has("dev")
	if err != nil || !has {
		t.Fatalf("expected block for dev after apply, got has=%v err=%v", has, err)
	}

	if err := codec.DeApply("dev"); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Errorf("file not restored\nbefore:\n%s\nafter:\n%s", before, after)
	}
	has, _ = codec.Has("dev")
	if has {
		t.Error("dev block still present after de-apply")
	}
}

func Test_DeApply_missing_profile_is_not_an_error(t *testing.T) {
	codec, _ := newCodec(t)
	if err := codec.DeApply("never-applied"); err != nil {
		t.Errorf("got %s, wanted <nil>", err)
	}
}

func Test_Apply_upserts_existing_block(t *testing.T) {
	codec, path := newCodec(t)

	if err := codec.Apply("dev", testMaterial()); err != nil {
		t.Fatal(err)
	}
	fresh := testMaterial()
	fresh.AccessKeyID = "ASIAROTATED"
	if err := codec.Apply("dev", fresh); err != nil {
		t.Fatal(err)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Section("dev").Key("aws_access_key_id").String(); got != "ASIAROTATED" {
		t.Errorf("got %s, wanted ASIAROTATED", got)
	}
}
