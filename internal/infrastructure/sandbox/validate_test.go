package sandbox

import "testing"

func TestValidateCommand(t *testing.T) {
	cases := []struct {
		command string
		wantErr bool
	}{
		{"ls -la", false},
		{"git status", false},
		{"", true},
		{"   ", true},
		{"sudo rm file", true},
		{"/usr/bin/sudo ls", true},
		{"reboot", true},
		{"echo hello && rm -rf /", true},
		{"echo $(sudo id)", true},
		{"echo `sudo id`", true},
		{"echo $(date)", false},
		{"grep -r pattern .", false},
	}

	for _, tc := range cases {
		err := ValidateCommand(tc.command)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateCommand(%q) err = %v, wantErr %v", tc.command, err, tc.wantErr)
		}
	}
}

func TestValidatePath(t *testing.T) {
	root := "/workspace/project"
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"src/main.go", false},
		{"", true},
		{"  ", true},
		{"../etc/passwd", true},
		{"src/../../escape", true},
		{"/workspace/project/src/main.go", false},
		{"/workspace/project", false},
		{"/etc/passwd", true},
		{"/workspace/project2/file", true},
	}

	for _, tc := range cases {
		err := ValidatePath(tc.path, root)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidatePath(%q) err = %v, wantErr %v", tc.path, err, tc.wantErr)
		}
	}
}
